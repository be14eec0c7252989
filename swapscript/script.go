package swapscript

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/go-errors/errors"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for the consensus HASH160 construction
)

// maxScriptNumLen bounds the byte length accepted when decoding a
// numeric push. 5 covers any locktime value up to the year 2106 rollover
// of a 32-bit block height, matching txscript's own CLTV allowance.
const maxScriptNumLen = 5

// Substitutions holds the values embedded into (or extracted from) one
// instance of a script template.
type Substitutions struct {
	// Hash160 is RIPEMD160(payment_hash), the value embedded in the
	// script's hash check.
	Hash160 [20]byte

	// ClaimPubkey is the compressed pubkey on the success branch.
	ClaimPubkey [33]byte

	// RefundPubkey is the compressed pubkey on the timeout branch.
	RefundPubkey [33]byte

	// Locktime is the absolute block height embedded in the timeout
	// branch.
	Locktime int64
}

// Hash160FromPaymentHash computes the operand embedded in a swap script
// from a 32-byte SHA-256 payment hash: HASH160 here means
// RIPEMD160(payment_hash), not RIPEMD160(SHA256(pubkey)) as in a P2PKH
// script — the payment hash itself is already a SHA-256 digest.
func Hash160FromPaymentHash(paymentHash [32]byte) [20]byte {
	r := ripemd160.New()
	r.Write(paymentHash[:])
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

// Build renders tmpl with subs into the final script bytes.
func Build(tmpl Template, subs Substitutions) ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	pubkeysSeen := 0
	for _, el := range tmpl {
		switch el.kind {
		case opElement:
			builder.AddOp(el.op)
		case hash160Element:
			builder.AddData(subs.Hash160[:])
		case pubKeyElement:
			if pubkeysSeen == 0 {
				builder.AddData(subs.ClaimPubkey[:])
			} else {
				builder.AddData(subs.RefundPubkey[:])
			}
			pubkeysSeen++
		case numElement:
			builder.AddInt64(el.num)
		case locktimeElement:
			builder.AddInt64(subs.Locktime)
		default:
			return nil, errors.Errorf("swapscript: unknown template element kind %v", el.kind)
		}
	}

	return builder.Script()
}

// Match walks script against tmpl, verifying exact structural
// conformance (opcode-for-opcode, placeholder pushes of the required
// length) and capturing the placeholder values. ok is false if script
// does not conform to tmpl at all; err is non-nil only on a malformed
// script that the tokenizer itself rejects.
func Match(script []byte, tmpl Template) (subs Substitutions, ok bool, err error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	pubkeysSeen := 0
	for _, el := range tmpl {
		if !tokenizer.Next() {
			return Substitutions{}, false, tokenizer.Err()
		}

		switch el.kind {
		case opElement:
			if tokenizer.Opcode() != el.op {
				return Substitutions{}, false, nil
			}

		case hash160Element:
			data := tokenizer.Data()
			if len(data) != 20 {
				return Substitutions{}, false, nil
			}
			copy(subs.Hash160[:], data)

		case pubKeyElement:
			data := tokenizer.Data()
			if len(data) != 33 {
				return Substitutions{}, false, nil
			}
			if pubkeysSeen == 0 {
				copy(subs.ClaimPubkey[:], data)
			} else {
				copy(subs.RefundPubkey[:], data)
			}
			pubkeysSeen++

		case numElement:
			v, numOk := scriptNum(tokenizer.Opcode(), tokenizer.Data())
			if !numOk || v != el.num {
				return Substitutions{}, false, nil
			}

		case locktimeElement:
			v, numOk := scriptNum(tokenizer.Opcode(), tokenizer.Data())
			if !numOk {
				return Substitutions{}, false, nil
			}
			subs.Locktime = v

		default:
			return Substitutions{}, false, errors.Errorf("swapscript: unknown template element kind %v", el.kind)
		}
	}

	if tokenizer.Next() {
		// Trailing data after the template is fully matched: not a
		// conforming script.
		return Substitutions{}, false, nil
	}
	if err := tokenizer.Err(); err != nil {
		return Substitutions{}, false, err
	}

	return subs, true, nil
}

// scriptNum decodes a tokenizer opcode/data pair that is expected to
// represent a minimally-encoded number, handling both the OP_1..OP_16 /
// OP_1NEGATE small-integer opcodes and explicit data pushes.
func scriptNum(opcode byte, data []byte) (int64, bool) {
	switch {
	case opcode == txscript.OP_0:
		return 0, true
	case opcode == txscript.OP_1NEGATE:
		return -1, true
	case opcode >= txscript.OP_1 && opcode <= txscript.OP_16:
		return int64(opcode-txscript.OP_1) + 1, true
	}

	n, err := txscript.MakeScriptNum(data, true, maxScriptNumLen)
	if err != nil {
		return 0, false
	}
	return int64(n), true
}

// Match reports a parse failure (ok==false) identically for a short
// script and for a well-formed-but-different script; callers that need
// to distinguish "not this template" from "malformed data" should treat
// err != nil as the latter.

// VerifyResponse matches script against the template for isReverse and
// asserts that every embedded value equals the corresponding expected
// local value (spec.md §4.1 verify_response, §4.5.1 step 5, §4.5.2 step
// 4). It returns a plain descriptive error on any mismatch; this
// package has no dependency on package swap, so the caller is
// responsible for wrapping a non-nil result in swap.ErrProtocolMismatch
// and aborting swap creation without persisting anything.
func VerifyResponse(script []byte, isReverse bool, expectedHash160 [20]byte,
	expectedOurPubkey [33]byte, weOwnClaimBranch bool, expectedLocktime int64) error {

	subs, ok, err := Match(script, ForTemplate(isReverse))
	if err != nil {
		return errors.WrapPrefix(err, "swapscript: malformed redeem script", 0)
	}
	if !ok {
		return errors.Errorf("swapscript: redeem script does not match %s template", templateName(isReverse))
	}
	if subs.Hash160 != expectedHash160 {
		return errors.Errorf("swapscript: embedded hash mismatch")
	}

	ourPubkey := subs.RefundPubkey
	branch := "refund"
	if weOwnClaimBranch {
		ourPubkey = subs.ClaimPubkey
		branch = "claim"
	}
	if ourPubkey != expectedOurPubkey {
		return errors.Errorf("swapscript: embedded %s pubkey mismatch", branch)
	}
	if subs.Locktime != expectedLocktime {
		return errors.Errorf("swapscript: embedded locktime mismatch: got %d want %d", subs.Locktime, expectedLocktime)
	}

	return nil
}

func templateName(isReverse bool) string {
	if isReverse {
		return "reverse-swap"
	}
	return "forward-swap"
}

// P2WSHAddress derives the v0 P2WSH lockup address committing to
// script, per spec.md invariant 2.
func P2WSHAddress(script []byte, netParams *chaincfg.Params) (btcutil.Address, error) {
	scriptHash := sha256.Sum256(script)
	return btcutil.NewAddressWitnessScriptHash(scriptHash[:], netParams)
}

// P2WSHPkScript derives the raw output script (not address) for script,
// as used when constructing a funding transaction output directly.
func P2WSHPkScript(script []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(script)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(scriptHash[:])
	return builder.Script()
}

// ExtractPreimage pulls the preimage out of a witness stack spending
// either template's claim branch. lnd's contractcourt package performs
// the analogous extraction when observing a remote party's HTLC success
// spend; here the witness shape is fixed by spec.md §4.5.3
// ("witness_elements()[1]"): [sig, preimage, redeem_script].
func ExtractPreimage(witness [][]byte) ([]byte, error) {
	if len(witness) < 2 {
		return nil, errors.Errorf("swapscript: witness has %d elements, need at least 2", len(witness))
	}
	preimage := witness[1]
	if len(preimage) != preimageLen {
		return nil, errors.Errorf("swapscript: witness preimage element is %d bytes, want %d", len(preimage), preimageLen)
	}
	return preimage, nil
}

// SerializePubkey returns the 33-byte compressed encoding of pub.
func SerializePubkey(pub *btcec.PublicKey) [33]byte {
	var out [33]byte
	copy(out[:], pub.SerializeCompressed())
	return out
}
