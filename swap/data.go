// Package swap defines the canonical swap data model, the narrow
// collaborator interfaces the rest of the engine depends on, and the
// explicit on-disk schema used to persist a swap.
package swap

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Data is the canonical persisted entity for one submarine swap, forward
// or reverse. All fields except FundingPrevout are durable; FundingPrevout
// is recomputed from chain observations on load.
type Data struct {
	// IsReverse is false for a forward swap (client funds on-chain,
	// receives on Lightning) and true for a reverse swap (client pays on
	// Lightning, receives on-chain).
	IsReverse bool

	// Locktime is the absolute block height gating the timeout branch of
	// the redeem script.
	Locktime uint32

	// OnchainAmount is the number of satoshis locked in the funding
	// output.
	OnchainAmount int64

	// LightningAmount is the number of satoshis of the Lightning
	// invoice.
	LightningAmount int64

	// RedeemScript is the P2WSH witness script for this swap.
	RedeemScript []byte

	// Preimage is the 32-byte HTLC preimage. It is known from creation
	// for forward swaps and learned at claim time for reverse swaps; nil
	// until known.
	Preimage []byte

	// PrepayHash is the payment hash of an optional miner-fee prepayment
	// invoice, reverse swaps only. Nil if there is none.
	PrepayHash *chainhash.Hash

	// Privkey is the 32-byte secret for the claim-or-refund public key
	// owned by this side of the swap.
	Privkey [32]byte

	// LockupAddress is the P2WSH address derived from RedeemScript.
	LockupAddress string

	// ReceiveAddress is the destination for the claim output.
	ReceiveAddress string

	// FundingTxid is the observed txid that funded LockupAddress, once
	// seen.
	FundingTxid *chainhash.Hash

	// SpendingTxid is the observed txid that spent the funding output,
	// once seen.
	SpendingTxid *chainhash.Hash

	// IsRedeemed is set once the spending transaction has accumulated
	// more than RedeemAfterDoubleSpentDelay confirmations.
	IsRedeemed bool

	// PaymentHash is SHA256(Preimage), the primary key. Stored alongside
	// rather than derived, since Preimage may be unknown at load time.
	PaymentHash chainhash.Hash

	// FundingPrevout is volatile: the outpoint of the funding UTXO, set
	// once funding is observed and never persisted.
	FundingPrevout *wire.OutPoint
}

// HasPreimage reports whether the preimage is currently known.
func (d *Data) HasPreimage() bool {
	return len(d.Preimage) == 32
}

// CheckPaymentHash verifies invariant 1: PaymentHash == SHA256(Preimage)
// whenever Preimage is known. It is a no-op (and returns true) when the
// preimage is not yet known.
func (d *Data) CheckPaymentHash() bool {
	if !d.HasPreimage() {
		return true
	}
	h := sha256.Sum256(d.Preimage)
	return h == d.PaymentHash
}

// PaymentHashKey returns the lookup key for the primary SwapStore index.
func (d *Data) PaymentHashKey() chainhash.Hash {
	return d.PaymentHash
}
