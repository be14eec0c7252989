// Package feecalc converts between on-chain and Lightning amounts using
// a percentage fee plus fixed miner-fee budgets, and the matching
// inverse. It must match the remote swap server's own calculation
// bit-for-bit and satisfy a round-trip invariant (spec.md §4.2).
//
// There is no lnd analog for this component — lnd never computes an
// external market's percentage-based swap fee — so it is grounded
// directly on original_source/electrum/submarine_swaps.py's
// get_recv_amount/get_send_amount, ported from Python Decimal
// ceil/floor rounding to scaled-integer fixed point per spec.md's
// Design Notes.
package feecalc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/go-errors/errors"
	"github.com/lnswap/subswap/swap"
)

// ppmScale is the fixed-point scale for Calculator.PercentagePPM: the
// percentage rate is multiplied by it, so 0.50% is stored as 5_000 (see
// PercentageFromBasisPoints for the basis-points input convention).
// Storing the percentage as parts-per-10,000 means a server
// percentage with two decimal digits (e.g. 0.25%) is representable
// exactly without floating point.
const ppmScale = 10_000

// Calculator holds the fee parameters agreed with (or published by) the
// swap server for one pair, fetched via GET /getpairs (spec.md §6).
type Calculator struct {
	// PercentagePPM is the percentage fee rate, scaled by 10,000, so
	// 0.50% is represented as 5_000 and 0.25% as 2_500.
	PercentagePPM int64

	// NormalFee is the forward-swap miner-fee budget in satoshis.
	NormalFee int64

	// LockupFee is the reverse-swap lockup miner-fee budget in satoshis.
	LockupFee int64

	// ClaimFee is the reverse-swap claim miner-fee budget in satoshis,
	// added by the public wrapper on top of the server-matching internal
	// calculation (spec.md §4.2 "Public wrappers").
	ClaimFee int64

	// MinAmount and MaxAmount bound valid send amounts, inclusive.
	MinAmount int64
	MaxAmount int64

	// DustThreshold is the network's dust limit for a P2WSH output of
	// the size this swap produces.
	DustThreshold int64
}

// PercentageFromBasisPoints builds a PercentagePPM value from a
// percentage expressed with up to two decimal digits, e.g.
// PercentageFromBasisPoints(50) means 0.50%.
func PercentageFromBasisPoints(basisPoints int64) int64 {
	return basisPoints * (ppmScale / 100)
}

// ceilDiv returns ceil(numerator / denominator) for non-negative
// operands, matching Python's Decimal.quantize(ROUND_CEILING) used by
// the source.
func ceilDiv(numerator, denominator int64) int64 {
	if numerator <= 0 {
		return 0
	}
	return (numerator + denominator - 1) / denominator
}

// percentageFee returns ceil(percentagePPM * amount / (100 * ppmScale)),
// i.e. ceil(percentage * amount / 100) with percentage expressed as a
// ppmScale-scaled integer.
func percentageFee(amount, percentagePPM int64) int64 {
	return ceilDiv(amount*percentagePPM, 100*ppmScale)
}

// RecvFromSend computes the amount the other side receives given a send
// amount, for the given direction (spec.md §4.2 recv_from_send). It
// returns an error if the checked amount (send for reverse, the computed
// recv for forward) falls outside [MinAmount, MaxAmount], and (0, false) with
// no error if the result would be below dust (reverse only) — the
// absence-of-value case spec.md calls "return None if x < dust_threshold".
func (c *Calculator) RecvFromSend(send int64, isReverse bool) (recv int64, ok bool, err error) {
	if isReverse {
		if send < c.MinAmount || send > c.MaxAmount {
			return 0, false, errors.Errorf("feecalc: send amount %d outside [%d, %d]", send, c.MinAmount, c.MaxAmount)
		}
		pfee := percentageFee(send, c.PercentagePPM)
		x := send - pfee - c.LockupFee
		if x < c.DustThreshold {
			return 0, false, nil
		}
		return x, true, nil
	}

	// pfee = ceil(x * percentage / (100 + percentage)); multiplying
	// numerator and denominator by ppmScale keeps this exact in integer
	// arithmetic: ceil(x * PercentagePPM / (100*ppmScale + PercentagePPM)).
	x := send - c.NormalFee
	pfee := ceilDiv(x*c.PercentagePPM, 100*ppmScale+c.PercentagePPM)
	x -= pfee
	if x < c.MinAmount || x > c.MaxAmount {
		return 0, false, errors.Errorf("feecalc: computed recv amount %d outside [%d, %d]", x, c.MinAmount, c.MaxAmount)
	}
	return x, true, nil
}

// SendFromRecv computes the amount that must be sent to yield recv on
// the other side, for the given direction (spec.md §4.2 send_from_recv).
func (c *Calculator) SendFromRecv(recv int64, isReverse bool) (send int64, err error) {
	if isReverse {
		// x = ceil((recv + lockup_fee) / ((100 - percentage)/100))
		//   = ceil((recv + lockup_fee) * 100 * ppmScale / (100*ppmScale - percentagePPM))
		denom := 100*ppmScale - c.PercentagePPM
		if denom <= 0 {
			return 0, errors.Errorf("feecalc: percentage rate %d leaves no remainder to divide by", c.PercentagePPM)
		}
		x := ceilDiv((recv+c.LockupFee)*100*ppmScale, denom)
		if x < c.MinAmount || x > c.MaxAmount {
			return 0, errors.Errorf("feecalc: computed send amount %d outside [%d, %d]", x, c.MinAmount, c.MaxAmount)
		}
		return x, nil
	}

	if recv < c.MinAmount || recv > c.MaxAmount {
		return 0, errors.Errorf("feecalc: recv amount %d outside [%d, %d]", recv, c.MinAmount, c.MaxAmount)
	}
	pfee := percentageFee(recv, c.PercentagePPM)
	return recv + pfee + c.NormalFee, nil
}

// CheckRoundTrip enforces the round-trip contract of spec.md §4.2 and
// §8 invariant 4: forward must round-trip exactly; reverse tolerates an
// off-by-one satoshi due to asymmetric ceil/floor rounding on the two
// legs. A violation beyond that tolerance is swap.ErrInvariantViolation,
// "indicates a bug or server incompatibility" per spec.md §7.
func (c *Calculator) CheckRoundTrip(send int64, isReverse bool) error {
	recv, ok, err := c.RecvFromSend(send, isReverse)
	if err != nil {
		return errors.WrapPrefix(err, "feecalc: round-trip check", 0)
	}
	if !ok {
		// Below dust is not itself an invariant violation; there is
		// nothing to round-trip.
		return nil
	}

	roundTripped, err := c.SendFromRecv(recv, isReverse)
	if err != nil {
		return errors.WrapPrefix(err, "feecalc: round-trip check", 0)
	}

	diff := send - roundTripped
	if diff < 0 {
		diff = -diff
	}

	tolerance := int64(0)
	if isReverse {
		tolerance = 1
	}
	if diff > tolerance {
		prefix := fmt.Sprintf(
			"send=%d recv=%d round-trip=%d diff=%d exceeds tolerance=%d",
			send, recv, roundTripped, diff, tolerance)
		return errors.WrapPrefix(swap.ErrInvariantViolation, prefix, 0)
	}
	return nil
}

// PublicRecvFromSend is the wrapper exposed to callers outside the
// package: it adds/subtracts the on-chain claim fee on top of the
// internal (server-matching) calculation, since what the user actually
// receives on a reverse swap is net of the claim transaction's own fee
// (spec.md §4.2 "Public wrappers").
func (c *Calculator) PublicRecvFromSend(send int64, isReverse bool) (recv int64, ok bool, err error) {
	recv, ok, err = c.RecvFromSend(send, isReverse)
	if err != nil || !ok {
		return recv, ok, err
	}
	if isReverse {
		recv -= c.ClaimFee
		if recv < c.DustThreshold {
			return 0, false, nil
		}
	}
	return recv, true, nil
}

// PublicSendFromRecv is the inverse public wrapper.
func (c *Calculator) PublicSendFromRecv(recv int64, isReverse bool) (int64, error) {
	if isReverse {
		recv += c.ClaimFee
	}
	return c.SendFromRecv(recv, isReverse)
}

// DefaultDustThreshold is a convenience default matching the standard
// relay policy's dust limit for a P2WSH output, expressed in satoshis,
// used by callers that have not been handed a network-specific value.
const DefaultDustThreshold = int64(btcutil.Amount(330))
