package swapengine

import (
	"context"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-errors/errors"
	"github.com/lnswap/subswap/claimtx"
	"github.com/lnswap/subswap/swap"
	"github.com/lnswap/subswap/swapscript"
)

// handleAddressEvent implements spec.md §4.5.3's claim_swap: it
// reconciles every observed output at evt.Address against the tracked
// swap's expected state and, where policy allows, drives a claim or
// refund transaction to completion.
func (e *SwapEngine) handleAddressEvent(ctx context.Context, evt swap.AddressEvent) {
	d, ok := e.cfg.Store.GetByLockupAddress(evt.Address)
	if !ok {
		log.Warnf("claim_swap: no tracked swap for address %s", evt.Address)
		return
	}

	height, err := e.cfg.Chain.LocalHeight()
	if err != nil {
		log.Errorf("claim_swap: local height: %v", err)
		return
	}

	for _, out := range evt.Outputs {
		e.reconcileOutput(ctx, d, out, height)
	}
}

func (e *SwapEngine) reconcileOutput(ctx context.Context, d *swap.Data, out swap.ChainOutput, height int32) {
	if d.IsReverse && out.Value < d.OnchainAmount {
		// Invariant 7: never reveal the reverse-swap preimage when the
		// observed funding value underpays.
		log.Infof("claim_swap: underpayment on %s (%d < %d), ignoring",
			d.LockupAddress, out.Value, d.OnchainAmount)
		return
	}

	d.FundingTxid = &out.Txid
	d.FundingPrevout = &wire.OutPoint{Hash: out.Txid, Index: out.Vout}
	e.cfg.Store.Upsert(d)

	switch out.Spent {
	case swap.SpendStateUnspent:
		e.tryClaim(ctx, d, out, height, false)

	case swap.SpendStateConfirmed:
		e.handleConfirmedSpend(ctx, d, out, height)

	case swap.SpendStateLocal:
		// A local unbroadcast tx rebroadcasts by rebuilding: tryClaim is
		// idempotent (same inputs sign the same way), so re-running it
		// here re-announces the transaction instead of needing to retain
		// the original wire.MsgTx value.
		if e.zeroConfAllowed(out.Value) || out.SpendConfHeight > 0 {
			e.tryClaim(ctx, d, out, height, true)
		}

	case swap.SpendStateMempool:
		log.Debugf("claim_swap: spend of %s is in mempool, waiting", d.LockupAddress)
	}
}

func (e *SwapEngine) handleConfirmedSpend(ctx context.Context, d *swap.Data, out swap.ChainOutput, height int32) {
	d.SpendingTxid = &out.SpendingTxid

	if !d.IsReverse && !d.HasPreimage() {
		preimage, err := swapscript.ExtractPreimage(out.SpendingWitness)
		if err != nil {
			// The spend took the timeout branch: this is the
			// counterparty refunding, not claiming with the preimage.
			log.Infof("claim_swap: %s spent via refund branch, failing forwarded HTLC", d.LockupAddress)
			key := append(append([]byte{}, d.PaymentHash[:]...))
			if ferr := e.cfg.Lightning.FailTrampolineForwarding(ctx, key); ferr != nil {
				log.Errorf("claim_swap: fail trampoline forwarding: %v", ferr)
			}
		} else if sha256.Sum256(preimage) == d.PaymentHash {
			d.Preimage = preimage
			if err := e.cfg.Lightning.PublishPreimage(ctx, d.PaymentHash, preimage); err != nil {
				log.Errorf("claim_swap: publish preimage: %v", err)
			}
		}
	}

	e.cfg.Store.Upsert(d)

	if height-out.SpendConfHeight > RedeemAfterDoubleSpentDelay {
		d.IsRedeemed = true
		e.cfg.Store.Upsert(d)
		e.cfg.Watcher.Unregister(d.LockupAddress)
	}
}

func (e *SwapEngine) zeroConfAllowed(value int64) bool {
	return e.cfg.ClaimPolicy.AcceptZeroConf && value <= e.cfg.ClaimPolicy.MaxZeroConfAmount
}

// tryClaim builds and broadcasts a claim (reverse swap, or forward swap
// counterparty-claim observation) or refund (forward swap timeout)
// transaction for an unspent funding output, subject to the
// "too early to refund" and reverse-preimage-not-yet-revealed gates of
// spec.md §4.5.3.
func (e *SwapEngine) tryClaim(ctx context.Context, d *swap.Data, out swap.ChainOutput, height int32, confirmed bool) {
	if !confirmed && !e.zeroConfAllowed(out.Value) {
		return
	}

	in := claimtx.Input{
		Outpoint:     *d.FundingPrevout,
		Value:        out.Value,
		RedeemScript: d.RedeemScript,
	}

	var (
		tx  *wire.MsgTx
		err error
	)

	if d.IsReverse {
		if !d.HasPreimage() {
			return
		}
		preimage, perr := e.cfg.Lightning.GetPreimage(ctx, d.PaymentHash)
		if perr != nil {
			log.Errorf("claim_swap: get preimage: %v", perr)
			return
		}
		if preimage == nil {
			// The Lightning payment for this reverse swap has not
			// settled yet; enqueue it for payPendingInvoicesOnce to
			// retry and skip claim construction until a later
			// callback finds GetPreimage non-nil.
			if bolt11, ok := e.lookupInvoice(d.PaymentHash); ok {
				e.markPending(d.PaymentHash, bolt11)
			} else {
				log.Warnf("claim_swap: no cached invoice for %x, cannot enqueue pending payment", d.PaymentHash)
			}
			return
		}
		destPk, derr := addressPkScript(d.ReceiveAddress, e.cfg.NetParams)
		if derr != nil {
			log.Errorf("claim_swap: decode receive address: %v", derr)
			return
		}
		tx, err = e.cfg.ClaimBuilder.BuildClaim(in, d.Privkey, preimage, destPk)
	} else {
		if err := checkNotTooEarlyToRefund(d.Locktime, height); err != nil {
			log.Debugf("claim_swap: %v", err)
			return
		}
		destPk, derr := addressPkScript(d.ReceiveAddress, e.cfg.NetParams)
		if derr != nil {
			log.Errorf("claim_swap: decode receive address: %v", derr)
			return
		}
		tx, err = e.cfg.ClaimBuilder.BuildRefund(in, d.Privkey, d.Locktime, destPk)
	}

	if err != nil {
		log.Errorf("claim_swap: build tx for %s: %v", d.LockupAddress, err)
		return
	}

	if err := e.cfg.Chain.Broadcast(tx); err != nil {
		log.Errorf("claim_swap: broadcast tx for %s: %v", d.LockupAddress, err)
		return
	}

	txid := tx.TxHash()
	d.SpendingTxid = &txid
	e.cfg.Store.Upsert(d)
}

func checkNotTooEarlyToRefund(locktime uint32, height int32) error {
	if height < int32(locktime) {
		return errTooEarlyToRefund
	}
	return nil
}

func addressPkScript(address string, netParams *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, netParams)
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: decode address", 0)
	}
	return txscript.PayToAddrScript(addr)
}
