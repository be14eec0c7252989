// Package swapstore holds every swap the engine is tracking, indexed for
// O(1) lookup from any of the identifiers the rest of the system learns
// about a swap through: its payment hash, its lockup address, the
// on-chain outpoint that funds it, the prepay invoice's hash, or any
// transaction id that has touched it. There is no lnd analog for a
// multi-index in-memory swap table; its sync.RWMutex-guarded map shape
// is grounded on the concurrency pattern lnd's channeldb.DB callers use
// around an in-memory cache layered over persistence (htlcswitch's
// pending-payment maps), simplified here to pure in-memory storage per
// spec.md §4.4 (persistence to disk is out of scope).
package swapstore

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnswap/subswap/swap"
)

// Store indexes a set of swap.Data by payment hash, lockup address,
// funding outpoint, prepay hash, and any transaction id observed for the
// swap (spec.md §4.4 plus the tx_index addendum).
type Store struct {
	mu sync.RWMutex

	byPaymentHash   map[chainhash.Hash]*swap.Data
	byLockupAddress map[string]*swap.Data
	byFundingOutput map[string]*swap.Data
	byPrepayHash    map[chainhash.Hash]*swap.Data
	byTxID          map[chainhash.Hash]*swap.Data
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byPaymentHash:   make(map[chainhash.Hash]*swap.Data),
		byLockupAddress: make(map[string]*swap.Data),
		byFundingOutput: make(map[string]*swap.Data),
		byPrepayHash:    make(map[chainhash.Hash]*swap.Data),
		byTxID:          make(map[chainhash.Hash]*swap.Data),
	}
}

// Upsert (re-)inserts d into every index applicable given its current
// fields. Safe to call repeatedly as a swap's funding/spending txids
// become known. Entries are only added or overwritten: a key d no longer
// carries (e.g. an earlier funding outpoint) is not removed from its
// index.
func (s *Store) Upsert(d *swap.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byPaymentHash[d.PaymentHashKey()] = d
	s.byLockupAddress[d.LockupAddress] = d

	if d.PrepayHash != nil {
		s.byPrepayHash[*d.PrepayHash] = d
	}
	if d.FundingTxid != nil {
		s.byTxID[*d.FundingTxid] = d
		if d.FundingPrevout != nil {
			s.byFundingOutput[swap.OutpointString(*d.FundingPrevout)] = d
		}
	}
	if d.SpendingTxid != nil {
		s.byTxID[*d.SpendingTxid] = d
	}
}

// GetByPaymentHash is the primary lookup (spec.md §4.4 "primary").
func (s *Store) GetByPaymentHash(paymentHash chainhash.Hash) (*swap.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byPaymentHash[paymentHash]
	return d, ok
}

// GetByLockupAddress looks a swap up by its P2WSH lockup address.
func (s *Store) GetByLockupAddress(address string) (*swap.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byLockupAddress[address]
	return d, ok
}

// GetByFundingOutpoint looks a swap up by its funding outpoint, once
// observed.
func (s *Store) GetByFundingOutpoint(outpoint string) (*swap.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byFundingOutput[outpoint]
	return d, ok
}

// GetByPrepayHash resolves a reverse swap's prepay invoice hash back to
// its SwapData (the prepay_hash → payment_hash index of spec.md §4.4,
// collapsed here to go directly to the swap rather than through an
// intermediate payment-hash hop).
func (s *Store) GetByPrepayHash(prepayHash chainhash.Hash) (*swap.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byPrepayHash[prepayHash]
	return d, ok
}

// GetByTxID looks a swap up by any transaction id that has touched it,
// funding or spending (the tx_index addendum in SPEC_FULL.md's Design
// Notes).
func (s *Store) GetByTxID(txid chainhash.Hash) (*swap.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byTxID[txid]
	return d, ok
}

// GetByFundingTx scans tx's outputs for one paying a tracked swap's
// lockup address under netParams. It returns (nil, false) both when no
// output matches and when more than one does — per spec.md §9's
// resolved Open Question, the source's analogous lookup returns a bare
// boolean false for the multi-output case, which this store treats as
// equivalent to "no unambiguous match" rather than replicating as a
// distinguishable outcome.
func (s *Store) GetByFundingTx(tx *wire.MsgTx, netParams *chaincfg.Params) (*swap.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match *swap.Data
	for _, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, netParams)
		if err != nil || len(addrs) != 1 {
			continue
		}
		d, ok := s.byLockupAddress[addrs[0].EncodeAddress()]
		if !ok {
			continue
		}
		if match != nil && match != d {
			return nil, false
		}
		match = d
	}
	if match == nil {
		return nil, false
	}
	return match, true
}

// All returns every tracked swap, for callers implementing a periodic
// sweep such as ReapExpired.
func (s *Store) All() []*swap.Data {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*swap.Data, 0, len(s.byPaymentHash))
	for _, d := range s.byPaymentHash {
		out = append(out, d)
	}
	return out
}

// Delete removes d from every index it currently appears in, used by a
// higher-level garbage policy; spec.md §4.4 notes the store itself never
// evicts on its own.
func (s *Store) Delete(d *swap.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byPaymentHash, d.PaymentHashKey())
	delete(s.byLockupAddress, d.LockupAddress)
	if d.PrepayHash != nil {
		delete(s.byPrepayHash, *d.PrepayHash)
	}
	if d.FundingTxid != nil {
		delete(s.byTxID, *d.FundingTxid)
		if d.FundingPrevout != nil {
			delete(s.byFundingOutput, swap.OutpointString(*d.FundingPrevout))
		}
	}
	if d.SpendingTxid != nil {
		delete(s.byTxID, *d.SpendingTxid)
	}
}
