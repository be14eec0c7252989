package swapengine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-errors/errors"
	"github.com/lnswap/subswap/swap"
	"github.com/lnswap/subswap/swapscript"
)

// CreateForwardSwap implements spec.md §4.5.1: the client funds on-chain
// and receives lightningAmtSat over Lightning. On success the swap is
// persisted, a watcher callback is registered for its lockup address,
// and the funding transaction has been broadcast.
func (e *SwapEngine) CreateForwardSwap(ctx context.Context, lightningAmtSat int64) (*swap.Data, error) {
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: generate preimage", 0)
	}
	paymentHash := sha256.Sum256(preimage[:])

	refundPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: generate refund key", 0)
	}
	var refundPrivBytes [32]byte
	copy(refundPrivBytes[:], refundPriv.Serialize())
	refundPub := swapscript.SerializePubkey(refundPriv.PubKey())

	bolt11, err := e.cfg.Lightning.CreateInvoice(ctx, paymentHash, lightningAmtSat*1000, "")
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: create invoice", 0)
	}

	resp, err := e.cfg.Server.CreateForwardSwap(ctx, swap.CreateForwardSwapRequest{
		PaymentHash:     paymentHash,
		RefundPubkey:    refundPub,
		InvoiceAmtSat:   lightningAmtSat,
		LightningBolt11: bolt11,
	})
	if err != nil {
		return nil, errors.WrapPrefix(swap.ErrSwapServerUnreachable, err.Error(), 0)
	}

	height, err := e.cfg.Chain.LocalHeight()
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: local height", 0)
	}

	if err := swapscript.VerifyResponse(
		resp.RedeemScript, false, swapscript.Hash160FromPaymentHash(paymentHash),
		refundPub, false, int64(resp.TimeoutBlockHeight),
	); err != nil {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch, err.Error(), 0)
	}

	addr, err := swapscript.P2WSHAddress(resp.RedeemScript, e.cfg.NetParams)
	if err != nil {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch, err.Error(), 0)
	}
	if addr.EncodeAddress() != resp.Address {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch,
			"response address does not match derived P2WSH address", 0)
	}

	expected, err := e.cfg.FeeCalc.PublicSendFromRecv(lightningAmtSat, false)
	if err != nil {
		return nil, errors.WrapPrefix(swap.ErrInvariantViolation, err.Error(), 0)
	}
	if resp.ExpectedAmount > expected {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch,
			"server quoted an on-chain amount larger than expected", 0)
	}

	if int64(resp.TimeoutBlockHeight)-int64(height) >= MaxServerLocktimeWindow {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch,
			"server locktime window exceeds the maximum allowed", 0)
	}

	receiveAddr, err := e.cfg.Wallet.GetReceivingAddress()
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: get receiving address", 0)
	}

	d := &swap.Data{
		IsReverse:       false,
		Locktime:        resp.TimeoutBlockHeight,
		OnchainAmount:   resp.ExpectedAmount,
		LightningAmount: lightningAmtSat,
		RedeemScript:    resp.RedeemScript,
		Preimage:        preimage[:],
		Privkey:         refundPrivBytes,
		LockupAddress:   resp.Address,
		ReceiveAddress:  receiveAddr.EncodeAddress(),
		PaymentHash:     paymentHash,
	}

	e.cfg.Store.Upsert(d)

	if err := e.cfg.Watcher.Register(d.LockupAddress, e.addrEvents); err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: register watcher", 0)
	}

	lockupPkScript, err := swapscript.P2WSHPkScript(d.RedeemScript)
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: derive lockup pkScript", 0)
	}

	fundingTx, err := e.cfg.Wallet.CreateTransaction(
		[]*wire.TxOut{wire.NewTxOut(d.OnchainAmount, lockupPkScript)}, true, "",
	)
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: create funding transaction", 0)
	}
	if err := e.cfg.Chain.Broadcast(fundingTx); err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: broadcast funding transaction", 0)
	}

	return d, nil
}
