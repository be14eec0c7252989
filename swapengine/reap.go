package swapengine

// ReapExpired unregisters the watcher for every tracked forward swap that
// has passed into StateAbandoned (its locktime has elapsed with no
// funding ever observed) and marks it redeemed, so it stops occupying a
// watcher slot; the swap itself stays indexed in SwapStore. Callers invoke
// this once per newly connected block, mirroring the source's
// check_expired_swaps sweep (SPEC_FULL.md's supplemented-from-original
// addendum).
func (e *SwapEngine) ReapExpired(height int32) {
	for _, d := range e.cfg.Store.All() {
		if DeriveState(d, height) != StateAbandoned {
			continue
		}

		log.Infof("reap_expired: abandoning forward swap %x, locktime %d passed at height %d with no funding observed",
			d.PaymentHash, d.Locktime, height)

		e.cfg.Watcher.Unregister(d.LockupAddress)
		e.unmarkPending(d.PaymentHash)

		d.IsRedeemed = true
		e.cfg.Store.Upsert(d)
	}
}
