// Package claimtx builds and signs the single-input, single-output
// transaction that spends a swap's P2WSH lockup, either along the
// success branch (reverse swap, real preimage) or the timeout branch
// (forward swap refund, empty witness push). It follows the same
// sign-and-assemble shape as lnd's lnwallet/script_utils.go HTLC sweep
// helpers (senderHtlcSpendTimeout, receiverHtlcSpendRedeem), generalized
// from a fixed commitment-output script to the swap redeem script
// produced by swapscript.Build.
package claimtx

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-errors/errors"
	"github.com/lnswap/subswap/swap"
	"github.com/lnswap/subswap/swapscript"
)

// CLAIM_FEE_SIZE is the fixed vbyte estimate for a claim/refund
// transaction, used both to size the fee subtracted from the UTXO value
// and as the pre-signing witness-size hint handed to the wallet
// (spec.md §4.3).
const CLAIM_FEE_SIZE = 136

// emptyPreimagePush is pushed at the preimage slot on the refund path to
// unambiguously select the script's ELSE branch, per the Open Question
// resolution in spec.md §4.3: a single empty-byte push, not an OP_0 small
// integer, since the two are not guaranteed identical under all script
// interpreters inspecting witness element length.
var emptyPreimagePush = []byte{}

// Input describes the lockup UTXO being spent.
type Input struct {
	Outpoint     wire.OutPoint
	Value        int64
	RedeemScript []byte
}

// Builder assembles claim and refund transactions for one swap.
type Builder struct {
	FeeEstimator swap.FeeEstimator

	// DustLimit is the minimum output value this builder will produce;
	// claims below it fail with swap.ErrBelowDust (spec.md §4.3 step 1).
	DustLimit int64
}

// NewBuilder returns a Builder that prices transactions with the given
// fee estimator and rejects outputs below dustLimit.
func NewBuilder(feeEstimator swap.FeeEstimator, dustLimit int64) *Builder {
	return &Builder{FeeEstimator: feeEstimator, DustLimit: dustLimit}
}

// BuildClaim assembles and signs the success-path spend of a reverse
// swap's lockup: locktime 0, witness preimage supplied, paying to
// destPkScript (spec.md §4.3 steps 1-5).
func (b *Builder) BuildClaim(in Input, privkey [32]byte, preimage []byte, destPkScript []byte) (*wire.MsgTx, error) {
	if len(preimage) != 32 {
		return nil, errors.Errorf("claimtx: preimage must be 32 bytes, got %d", len(preimage))
	}
	return b.build(in, privkey, preimage, destPkScript, 0)
}

// BuildRefund assembles and signs the timeout-path spend of a forward
// swap's lockup: locktime set to the swap's agreed locktime, empty
// witness push at the preimage slot (selects the ELSE branch).
func (b *Builder) BuildRefund(in Input, privkey [32]byte, locktime uint32, destPkScript []byte) (*wire.MsgTx, error) {
	return b.build(in, privkey, emptyPreimagePush, destPkScript, locktime)
}

func (b *Builder) build(in Input, privkey [32]byte, witnessPreimage []byte, destPkScript []byte, locktime uint32) (*wire.MsgTx, error) {
	feeRate, err := b.FeeEstimator.FeeForVBytes(CLAIM_FEE_SIZE)
	if err != nil {
		return nil, errors.WrapPrefix(err, "claimtx: estimate fee", 0)
	}

	claimValue := in.Value - feeRate
	if claimValue < b.DustLimit {
		return nil, errors.WrapPrefix(swap.ErrBelowDust,
			"claimtx: claim value below dust limit", 0)
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = locktime

	txIn := wire.NewTxIn(&in.Outpoint, nil, nil)
	// A sequence below MaxTxInSequenceNum-1 both signals RBF (BIP 125)
	// and satisfies CHECKLOCKTIMEVERIFY's requirement that the input not
	// be final (BIP 65).
	txIn.Sequence = wire.MaxTxInSequenceNum - 2
	tx.AddTxIn(txIn)

	tx.AddTxOut(wire.NewTxOut(claimValue, destPkScript))

	priv, _ := btcec.PrivKeyFromBytes(privkey[:])

	lockupPkScript, err := swapscript.P2WSHPkScript(in.RedeemScript)
	if err != nil {
		return nil, errors.WrapPrefix(err, "claimtx: derive lockup pkScript", 0)
	}
	prevFetcher := txscript.NewCannedPrevOutputFetcher(lockupPkScript, in.Value)
	hashCache := txscript.NewTxSigHashes(tx, prevFetcher)
	sig, err := txscript.RawTxInWitnessSignature(
		tx, hashCache, 0, in.Value, in.RedeemScript,
		txscript.SigHashAll, priv,
	)
	if err != nil {
		return nil, errors.WrapPrefix(err, "claimtx: sign claim input", 0)
	}

	tx.TxIn[0].Witness = wire.TxWitness{sig, witnessPreimage, in.RedeemScript}

	return tx, nil
}

// SigHash returns the BIP143 sighash the given input would need signing
// for, exposed so callers can validate an externally produced signature
// (e.g. a cooperative-close style co-signed claim) before assembling it.
func SigHash(tx *wire.MsgTx, in Input) (chainhash.Hash, error) {
	lockupPkScript, err := swapscript.P2WSHPkScript(in.RedeemScript)
	if err != nil {
		return chainhash.Hash{}, errors.WrapPrefix(err, "claimtx: derive lockup pkScript", 0)
	}
	prevFetcher := txscript.NewCannedPrevOutputFetcher(lockupPkScript, in.Value)
	hashCache := txscript.NewTxSigHashes(tx, prevFetcher)
	hash, err := txscript.CalcWitnessSigHash(
		in.RedeemScript, hashCache, txscript.SigHashAll, tx, 0, in.Value,
	)
	if err != nil {
		return chainhash.Hash{}, errors.WrapPrefix(err, "claimtx: calc witness sighash", 0)
	}
	var h chainhash.Hash
	copy(h[:], hash)
	return h, nil
}

// EstimatedWitnessSize returns the vbyte hint this package estimates for
// a claim/refund transaction's witness, exposed for a wallet composing a
// funding transaction to size its own fee around (spec.md §4.3 closing
// note).
func EstimatedWitnessSize() int64 {
	return CLAIM_FEE_SIZE
}
