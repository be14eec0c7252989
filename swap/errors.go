package swap

import "github.com/go-errors/errors"

// Sentinel errors surfaced to callers, per spec.md §7.
var (
	// ErrSwapServerUnreachable indicates an HTTP transport failure
	// talking to the swap server. Recoverable by retry.
	ErrSwapServerUnreachable = errors.New("swap server unreachable")

	// ErrProtocolMismatch indicates a server response failed
	// verification against the locally agreed template, keys, hash, or
	// locktime. Fatal for the swap being created; nothing is persisted.
	ErrProtocolMismatch = errors.New("swap server response failed protocol verification")

	// ErrBelowDust indicates a claim transaction's output would fall
	// below the network dust threshold after fees.
	ErrBelowDust = errors.New("claim output would be below dust after fees")

	// ErrInvariantViolation indicates the fee calculator's round-trip
	// sanity check failed, implying a bug or a server incompatibility.
	ErrInvariantViolation = errors.New("fee calculator round-trip invariant violated")
)
