package swap

import (
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-errors/errors"
)

// record is the explicit on-disk schema for one swap, keyed by payment
// hash hex in the enclosing wallet's submarine_swaps map (spec.md §6).
// Unlike the source's attribute-reflection/dynamic-class-registry
// persistence, every field here is named explicitly; FundingPrevout is
// deliberately absent since it is volatile and is recomputed from the
// outputs the AddressWatcher reports once the engine's Start re-registers
// the swap's lockup address (spec.md Design Notes).
type record struct {
	IsReverse       bool   `json:"is_reverse"`
	Locktime        uint32 `json:"locktime"`
	OnchainAmount   int64  `json:"onchain_amount"`
	LightningAmount int64  `json:"lightning_amount"`
	RedeemScript    string `json:"redeem_script"`
	Preimage        string `json:"preimage,omitempty"`
	PrepayHash      string `json:"prepay_hash,omitempty"`
	Privkey         string `json:"privkey"`
	LockupAddress   string `json:"lockup_address"`
	ReceiveAddress  string `json:"receive_address"`
	FundingTxid     string `json:"funding_txid,omitempty"`
	SpendingTxid    string `json:"spending_txid,omitempty"`
	IsRedeemed      bool   `json:"is_redeemed"`
	PaymentHash     string `json:"payment_hash"`
}

// Marshal encodes d using the explicit schema above.
func Marshal(d *Data) ([]byte, error) {
	r := record{
		IsReverse:       d.IsReverse,
		Locktime:        d.Locktime,
		OnchainAmount:   d.OnchainAmount,
		LightningAmount: d.LightningAmount,
		RedeemScript:    hex.EncodeToString(d.RedeemScript),
		Privkey:         hex.EncodeToString(d.Privkey[:]),
		LockupAddress:   d.LockupAddress,
		ReceiveAddress:  d.ReceiveAddress,
		IsRedeemed:      d.IsRedeemed,
		PaymentHash:     hex.EncodeToString(d.PaymentHash[:]),
	}
	if d.HasPreimage() {
		r.Preimage = hex.EncodeToString(d.Preimage)
	}
	if d.PrepayHash != nil {
		r.PrepayHash = hex.EncodeToString(d.PrepayHash[:])
	}
	if d.FundingTxid != nil {
		r.FundingTxid = d.FundingTxid.String()
	}
	if d.SpendingTxid != nil {
		r.SpendingTxid = d.SpendingTxid.String()
	}
	return json.Marshal(r)
}

// Unmarshal decodes b into a fresh Data. FundingPrevout is left nil; the
// caller is expected to re-derive it (and re-register with the
// AddressWatcher) as spec.md §5 "Persistence" requires on restart.
func Unmarshal(b []byte) (*Data, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.WrapPrefix(err, "decode swap record", 0)
	}

	d := &Data{
		IsReverse:       r.IsReverse,
		Locktime:        r.Locktime,
		OnchainAmount:   r.OnchainAmount,
		LightningAmount: r.LightningAmount,
		LockupAddress:   r.LockupAddress,
		ReceiveAddress:  r.ReceiveAddress,
		IsRedeemed:      r.IsRedeemed,
	}

	var err error
	if d.RedeemScript, err = hex.DecodeString(r.RedeemScript); err != nil {
		return nil, errors.WrapPrefix(err, "decode redeem_script", 0)
	}
	privkey, err := hex.DecodeString(r.Privkey)
	if err != nil {
		return nil, errors.WrapPrefix(err, "decode privkey", 0)
	}
	if len(privkey) != 32 {
		return nil, errors.Errorf("privkey must be 32 bytes, got %d", len(privkey))
	}
	copy(d.Privkey[:], privkey)

	paymentHash, err := hex.DecodeString(r.PaymentHash)
	if err != nil {
		return nil, errors.WrapPrefix(err, "decode payment_hash", 0)
	}
	if len(paymentHash) != chainhash.HashSize {
		return nil, errors.Errorf("payment_hash must be %d bytes, got %d", chainhash.HashSize, len(paymentHash))
	}
	copy(d.PaymentHash[:], paymentHash)

	if r.Preimage != "" {
		preimage, err := hex.DecodeString(r.Preimage)
		if err != nil {
			return nil, errors.WrapPrefix(err, "decode preimage", 0)
		}
		d.Preimage = preimage
	}

	if r.PrepayHash != "" {
		raw, err := hex.DecodeString(r.PrepayHash)
		if err != nil {
			return nil, errors.WrapPrefix(err, "decode prepay_hash", 0)
		}
		var h chainhash.Hash
		if len(raw) != chainhash.HashSize {
			return nil, errors.Errorf("prepay_hash must be %d bytes, got %d", chainhash.HashSize, len(raw))
		}
		copy(h[:], raw)
		d.PrepayHash = &h
	}

	if r.FundingTxid != "" {
		h, err := chainhash.NewHashFromStr(r.FundingTxid)
		if err != nil {
			return nil, errors.WrapPrefix(err, "decode funding_txid", 0)
		}
		d.FundingTxid = h
	}
	if r.SpendingTxid != "" {
		h, err := chainhash.NewHashFromStr(r.SpendingTxid)
		if err != nil {
			return nil, errors.WrapPrefix(err, "decode spending_txid", 0)
		}
		d.SpendingTxid = h
	}

	return d, nil
}

// OutpointString renders an outpoint the way SwapStore keys its funding
// index, so callers building lookups elsewhere stay consistent.
func OutpointString(op wire.OutPoint) string {
	return op.String()
}
