package swapengine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/lnswap/subswap/swap"
	"github.com/lnswap/subswap/swapscript"
)

// ReverseSwapResult reports which of the two concurrent legs of
// CreateReverseSwap completed first, per spec.md §4.5.2 step 6's
// first-completed join semantics.
type ReverseSwapResult struct {
	Data *swap.Data

	// PaymentInitiated is true if the Lightning payment leg was the one
	// that completed (or failed) first.
	PaymentInitiated bool

	// FundingObserved is true if chain funding was seen before the
	// payment leg resolved.
	FundingObserved bool

	// PaymentErr carries a payment failure when PaymentInitiated is true
	// and the attempt failed outright.
	PaymentErr error
}

// CreateReverseSwap implements spec.md §4.5.2: the client pays over
// Lightning and receives on-chain. It persists the swap and registers
// its watcher callback before racing the two legs, so a caller can
// resume from SwapStore even if this call is interrupted.
func (e *SwapEngine) CreateReverseSwap(ctx context.Context, lightningAmtSat int64) (*ReverseSwapResult, error) {
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: generate preimage", 0)
	}
	paymentHash := sha256.Sum256(preimage[:])

	claimPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: generate claim key", 0)
	}
	var claimPrivBytes [32]byte
	copy(claimPrivBytes[:], claimPriv.Serialize())
	claimPub := swapscript.SerializePubkey(claimPriv.PubKey())

	resp, err := e.cfg.Server.CreateReverseSwap(ctx, swap.CreateReverseSwapRequest{
		InvoiceAmtSat: lightningAmtSat,
		PreimageHash:  paymentHash,
		ClaimPubkey:   claimPub,
	})
	if err != nil {
		return nil, errors.WrapPrefix(swap.ErrSwapServerUnreachable, err.Error(), 0)
	}

	height, err := e.cfg.Chain.LocalHeight()
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: local height", 0)
	}

	if err := swapscript.VerifyResponse(
		resp.RedeemScript, true, swapscript.Hash160FromPaymentHash(paymentHash),
		claimPub, true, int64(resp.TimeoutBlockHeight),
	); err != nil {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch, err.Error(), 0)
	}

	expected, ok, err := e.cfg.FeeCalc.PublicRecvFromSend(lightningAmtSat, true)
	if err != nil {
		return nil, errors.WrapPrefix(swap.ErrInvariantViolation, err.Error(), 0)
	}
	if !ok || resp.OnchainAmount < expected {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch,
			"server quoted an on-chain amount smaller than expected", 0)
	}

	if int64(resp.TimeoutBlockHeight)-int64(height) <= MinLocktimeDelta {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch,
			"server locktime leaves less than the minimum delta", 0)
	}

	prepayHash, err := verifyReverseSwapInvoices(resp.Invoice, resp.MinerFeeInvoice, paymentHash, lightningAmtSat)
	if err != nil {
		return nil, errors.WrapPrefix(swap.ErrProtocolMismatch, err.Error(), 0)
	}

	receiveAddr, err := e.cfg.Wallet.GetReceivingAddress()
	if err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: get receiving address", 0)
	}

	d := &swap.Data{
		IsReverse:       true,
		Locktime:        resp.TimeoutBlockHeight,
		OnchainAmount:   resp.OnchainAmount,
		LightningAmount: lightningAmtSat,
		RedeemScript:    resp.RedeemScript,
		Preimage:        preimage[:],
		PrepayHash:      prepayHash,
		Privkey:         claimPrivBytes,
		LockupAddress:   resp.LockupAddress,
		ReceiveAddress:  receiveAddr.EncodeAddress(),
		PaymentHash:     paymentHash,
	}

	e.cfg.Store.Upsert(d)
	e.recordInvoice(paymentHash, resp.Invoice)

	if err := e.cfg.Watcher.Register(d.LockupAddress, e.addrEvents); err != nil {
		return nil, errors.WrapPrefix(err, "swapengine: register watcher", 0)
	}

	return e.raceReverseSwapLegs(ctx, d, resp), nil
}

// raceReverseSwapLegs runs the payment leg and a funding poll
// concurrently, returning as soon as either completes, per spec.md §9's
// "coroutine first-completed join" Design Note. A losing funding poll is
// cancelled on return. A losing payment leg is left running in its own
// goroutine and its result is discarded, since the Lightning payment
// attempt cannot be safely cancelled mid-flight.
func (e *SwapEngine) raceReverseSwapLegs(ctx context.Context, d *swap.Data, resp swap.CreateReverseSwapResponse) *ReverseSwapResult {
	type legResult struct {
		fromPayment bool
		err         error
	}
	results := make(chan legResult, 2)

	go func() {
		ok, _, err := e.cfg.Lightning.PayInvoice(ctx, resp.Invoice, 1)
		if err == nil && !ok {
			err = errors.New("swapengine: lightning payment did not succeed")
		}
		if err == nil && resp.MinerFeeInvoice != "" {
			if _, _, feeErr := e.cfg.Lightning.PayInvoice(ctx, resp.MinerFeeInvoice, 1); feeErr != nil {
				log.Errorf("reverse swap %x: miner-fee prepay invoice failed: %v", d.PaymentHash, feeErr)
			}
		}
		results <- legResult{fromPayment: true, err: err}
	}()

	pollCtx, stopPoll := context.WithCancel(context.Background())
	defer stopPoll()
	go func() {
		e.awaitFundingObservation(pollCtx, d)
		results <- legResult{fromPayment: false}
	}()

	first := <-results
	if first.fromPayment {
		return &ReverseSwapResult{Data: d, PaymentInitiated: true, PaymentErr: first.err}
	}
	return &ReverseSwapResult{Data: d, FundingObserved: true}
}

// awaitFundingObservation blocks until d's funding txid is recorded by
// the watcher-driven reconciliation path, ctx is cancelled, or the engine
// shuts down.
func (e *SwapEngine) awaitFundingObservation(ctx context.Context, d *swap.Data) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if current, ok := e.cfg.Store.GetByPaymentHash(d.PaymentHash); ok && current.FundingTxid != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		}
	}
}

// verifyReverseSwapInvoices decodes invoice and, if present, feeInvoice,
// and checks them against paymentHash and lightningAmtSat per spec.md
// §4.5.2 step 4 ("invoice.payment_hash == preimage_hash") and step 5
// ("invoice_amount + fee_invoice_amount == lightning_amount_sat"). It
// returns the fee invoice's payment hash, for swap.Data.PrepayHash, or
// nil when there is no miner-fee prepayment leg.
func verifyReverseSwapInvoices(invoice, feeInvoice string, paymentHash [32]byte, lightningAmtSat int64) (*chainhash.Hash, error) {
	decoded, err := decodeSwapInvoice(invoice, &paymentHash)
	if err != nil {
		return nil, err
	}
	invoiceAmt := decoded.amountSat

	if feeInvoice == "" {
		if invoiceAmt != lightningAmtSat {
			return nil, errors.New("swapengine: invoice amount does not match requested lightning amount")
		}
		return nil, nil
	}

	feeDecoded, err := decodeSwapInvoice(feeInvoice, nil)
	if err != nil {
		return nil, err
	}
	if invoiceAmt+feeDecoded.amountSat != lightningAmtSat {
		return nil, errors.New("swapengine: invoice amount plus fee invoice amount does not match requested lightning amount")
	}

	prepayHash := chainhash.Hash(*feeDecoded.paymentHash)
	return &prepayHash, nil
}

type decodedSwapInvoice struct {
	paymentHash *[32]byte
	amountSat   int64
}

// decodeSwapInvoice decodes a bolt11 invoice and, if wantHash is
// non-nil, checks its embedded payment hash against *wantHash.
func decodeSwapInvoice(invoice string, wantHash *[32]byte) (decodedSwapInvoice, error) {
	decoded, err := zpay32.Decode(invoice)
	if err != nil {
		return decodedSwapInvoice{}, errors.WrapPrefix(err, "swapengine: decode invoice", 0)
	}
	if decoded.PaymentHash == nil {
		return decodedSwapInvoice{}, errors.New("swapengine: invoice carries no payment hash")
	}
	if wantHash != nil && *decoded.PaymentHash != *wantHash {
		return decodedSwapInvoice{}, errors.New("swapengine: invoice payment hash does not match preimage hash")
	}
	if decoded.MilliSat == nil {
		return decodedSwapInvoice{}, errors.New("swapengine: invoice carries no amount")
	}

	return decodedSwapInvoice{
		paymentHash: decoded.PaymentHash,
		amountSat:   int64(decoded.MilliSat.ToSatoshis()),
	}, nil
}
