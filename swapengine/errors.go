package swapengine

import "github.com/go-errors/errors"

// errTooEarlyToRefund is an expected transient condition raised
// internally when a refund claim is attempted before the swap's
// locktime has passed. It never reaches a caller: spec.md §7 classifies
// TooEarlyToRefund as "expected transient condition, not surfaced;
// swallowed", so tryClaim logs it at Debug level and returns.
var errTooEarlyToRefund = errors.New("too early to refund: locktime not yet reached")
