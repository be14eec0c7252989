package swapengine

import "github.com/lnswap/subswap/swap"

// State is a swap's derived lifecycle stage. It is never stored; it is
// recomputed on demand from swap.Data's persisted fields plus the
// current block height, per spec.md §4.5.5: "state is derived from the
// four fields funding_txid, spending_txid, preimage, is_redeemed plus
// current block height."
type State int

const (
	// StateCreated means the swap handshake succeeded but no funding has
	// been observed yet.
	StateCreated State = iota

	// StateFundingObserved means a funding output has been seen but not
	// yet spent.
	StateFundingObserved

	// StateClaimPending means a spend of the funding output has not yet
	// been recorded as a claim (the watcher has seen activity but the
	// engine's own claim tx, if any, has not reached the chain).
	StateClaimPending

	// StateClaimBroadcast means this side's claim or refund transaction
	// has been broadcast, but not yet confirmed enough to be final.
	StateClaimBroadcast

	// StateRedeemed is the normal terminal state: the spend has
	// accumulated enough confirmations that is_redeemed is set.
	StateRedeemed

	// StateRefundBroadcast means a forward swap's refund transaction has
	// been broadcast along the timeout branch.
	StateRefundBroadcast

	// StateAbandoned means a forward swap's locktime passed with no
	// funding ever observed (spec.md's Design Notes addendum on
	// check_expired_swaps).
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateFundingObserved:
		return "FundingObserved"
	case StateClaimPending:
		return "ClaimPending"
	case StateClaimBroadcast:
		return "ClaimBroadcast"
	case StateRedeemed:
		return "Redeemed"
	case StateRefundBroadcast:
		return "RefundBroadcast"
	case StateAbandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}

// DeriveState computes d's current lifecycle stage.
func DeriveState(d *swap.Data, currentHeight int32) State {
	if d.IsRedeemed {
		return StateRedeemed
	}

	if d.FundingTxid == nil {
		if !d.IsReverse && currentHeight >= int32(d.Locktime) {
			return StateAbandoned
		}
		return StateCreated
	}

	if d.SpendingTxid == nil {
		return StateFundingObserved
	}

	if d.IsReverse {
		return StateClaimBroadcast
	}

	if d.HasPreimage() {
		return StateClaimBroadcast
	}
	return StateRefundBroadcast
}
