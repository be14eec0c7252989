package swapstore

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnswap/subswap/swap"
	"github.com/lnswap/subswap/swapscript"
	"github.com/stretchr/testify/require"
)

func newTestSwap(t *testing.T, seed byte) *swap.Data {
	t.Helper()

	preimage := make([]byte, 32)
	preimage[0] = seed
	hash := sha256.Sum256(preimage)

	redeemScript := make([]byte, 40)
	redeemScript[0] = seed

	addr, err := swapscript.P2WSHAddress(redeemScript, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	return &swap.Data{
		PaymentHash:    hash,
		Preimage:       preimage,
		RedeemScript:   redeemScript,
		LockupAddress:  addr.EncodeAddress(),
		ReceiveAddress: addr.EncodeAddress(),
	}
}

func TestUpsertAndLookupByPaymentHash(t *testing.T) {
	s := New()
	d := newTestSwap(t, 1)

	s.Upsert(d)

	got, ok := s.GetByPaymentHash(d.PaymentHash)
	require.True(t, ok)
	require.Same(t, d, got)

	_, ok = s.GetByPaymentHash(chainhash.Hash{0xff})
	require.False(t, ok)
}

func TestUpsertIndexesLockupAddress(t *testing.T) {
	s := New()
	d := newTestSwap(t, 2)
	s.Upsert(d)

	got, ok := s.GetByLockupAddress(d.LockupAddress)
	require.True(t, ok)
	require.Same(t, d, got)
}

func TestUpsertIndexesFundingAndSpendingTxIDs(t *testing.T) {
	s := New()
	d := newTestSwap(t, 3)

	fundingTxid := chainhash.Hash{0x01}
	d.FundingTxid = &fundingTxid
	d.FundingPrevout = &wire.OutPoint{Hash: fundingTxid, Index: 0}

	s.Upsert(d)

	got, ok := s.GetByTxID(fundingTxid)
	require.True(t, ok)
	require.Same(t, d, got)

	got, ok = s.GetByFundingOutpoint(swap.OutpointString(*d.FundingPrevout))
	require.True(t, ok)
	require.Same(t, d, got)

	spendingTxid := chainhash.Hash{0x02}
	d.SpendingTxid = &spendingTxid
	s.Upsert(d)

	got, ok = s.GetByTxID(spendingTxid)
	require.True(t, ok)
	require.Same(t, d, got)
}

func TestGetByFundingTxNoMatchAndAmbiguousBothReturnFalse(t *testing.T) {
	s := New()
	d1 := newTestSwap(t, 4)
	d2 := newTestSwap(t, 5)
	s.Upsert(d1)
	s.Upsert(d2)

	unrelatedTx := wire.NewMsgTx(2)
	unrelatedTx.AddTxOut(wire.NewTxOut(1000, []byte{txscript.OP_RETURN}))

	_, ok := s.GetByFundingTx(unrelatedTx, &chaincfg.RegressionNetParams)
	require.False(t, ok)

	pk1, err := swapscript.P2WSHPkScript(d1.RedeemScript)
	require.NoError(t, err)
	pk2, err := swapscript.P2WSHPkScript(d2.RedeemScript)
	require.NoError(t, err)

	ambiguousTx := wire.NewMsgTx(2)
	ambiguousTx.AddTxOut(wire.NewTxOut(1000, pk1))
	ambiguousTx.AddTxOut(wire.NewTxOut(2000, pk2))

	_, ok = s.GetByFundingTx(ambiguousTx, &chaincfg.RegressionNetParams)
	require.False(t, ok)

	unambiguousTx := wire.NewMsgTx(2)
	unambiguousTx.AddTxOut(wire.NewTxOut(1000, pk1))

	got, ok := s.GetByFundingTx(unambiguousTx, &chaincfg.RegressionNetParams)
	require.True(t, ok)
	require.Same(t, d1, got)
}

func TestDeleteRemovesFromEveryIndex(t *testing.T) {
	s := New()
	d := newTestSwap(t, 6)
	fundingTxid := chainhash.Hash{0x09}
	d.FundingTxid = &fundingTxid
	d.FundingPrevout = &wire.OutPoint{Hash: fundingTxid, Index: 1}
	s.Upsert(d)

	s.Delete(d)

	_, ok := s.GetByPaymentHash(d.PaymentHash)
	require.False(t, ok)
	_, ok = s.GetByLockupAddress(d.LockupAddress)
	require.False(t, ok)
	_, ok = s.GetByTxID(fundingTxid)
	require.False(t, ok)
}
