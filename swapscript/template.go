// Package swapscript builds, parses, and template-matches the two
// canonical submarine-swap witness scripts, and derives their P2WSH
// lockup address. It generalizes the single-purpose HTLC script builders
// in lnd's lnwallet/script_utils.go into a declarative
// template-plus-substitution model, since (unlike a Lightning commitment
// HTLC) a swap script must be round-tripped: built locally to know what
// to expect, then parsed back out of whatever the counterparty's server
// returns.
package swapscript

import "github.com/btcsuite/btcd/txscript"

// elementKind identifies one position in a script template.
type elementKind int

const (
	// opElement is a fixed opcode, no data.
	opElement elementKind = iota

	// hash160Element is a push of exactly 20 bytes: RIPEMD160(payment
	// hash).
	hash160Element

	// pubKeyElement is a push of exactly 33 bytes: a compressed pubkey.
	// The first occurrence in a template is always the claim pubkey, the
	// second the refund pubkey.
	pubKeyElement

	// numElement is a minimally-encoded numeric push with a fixed,
	// expected value (e.g. the literal 32 in the preimage-length check).
	numElement

	// locktimeElement is a minimally-encoded numeric push whose value is
	// captured rather than fixed.
	locktimeElement
)

type element struct {
	kind elementKind
	op   byte  // valid when kind == opElement
	num  int64 // valid when kind == numElement
}

// Template is an ordered list of script elements. The two swap templates
// (spec.md §4.1) are instances of this type; Build and Match are
// template-generic.
type Template []element

func op(b byte) element                  { return element{kind: opElement, op: b} }
func hash160() element                   { return element{kind: hash160Element} }
func pubKey() element                    { return element{kind: pubKeyElement} }
func num(v int64) element                { return element{kind: numElement, num: v} }
func locktime() element                  { return element{kind: locktimeElement} }

// preimageLen is the mandatory length of every swap preimage.
const preimageLen = 32

// Forward is the forward-swap (submarine) template:
//
//	HASH160 <20-byte RIPEMD160(payment_hash)> EQUAL
//	IF   <claim_pubkey>
//	ELSE <locktime> CHECKLOCKTIMEVERIFY DROP <refund_pubkey>
//	ENDIF CHECKSIG
var Forward = Template{
	op(txscript.OP_HASH160),
	hash160(),
	op(txscript.OP_EQUAL),
	op(txscript.OP_IF),
	pubKey(),
	op(txscript.OP_ELSE),
	locktime(),
	op(txscript.OP_CHECKLOCKTIMEVERIFY),
	op(txscript.OP_DROP),
	pubKey(),
	op(txscript.OP_ENDIF),
	op(txscript.OP_CHECKSIG),
}

// Reverse is the reverse-swap template, which adds a preimage-length
// check ahead of the hash check so that the claim branch cannot be taken
// with an oversized or undersized preimage:
//
//	SIZE <32> EQUAL
//	IF   HASH160 <20-byte RIPEMD160(payment_hash)> EQUALVERIFY <claim_pubkey>
//	ELSE DROP <locktime> CHECKLOCKTIMEVERIFY DROP <refund_pubkey>
//	ENDIF CHECKSIG
var Reverse = Template{
	op(txscript.OP_SIZE),
	num(preimageLen),
	op(txscript.OP_EQUAL),
	op(txscript.OP_IF),
	op(txscript.OP_HASH160),
	hash160(),
	op(txscript.OP_EQUALVERIFY),
	pubKey(),
	op(txscript.OP_ELSE),
	op(txscript.OP_DROP),
	locktime(),
	op(txscript.OP_CHECKLOCKTIMEVERIFY),
	op(txscript.OP_DROP),
	pubKey(),
	op(txscript.OP_ENDIF),
	op(txscript.OP_CHECKSIG),
}

// ForTemplate returns the template that governs a swap of the given
// direction, per invariant 3 of spec.md §3.
func ForTemplate(isReverse bool) Template {
	if isReverse {
		return Reverse
	}
	return Forward
}
