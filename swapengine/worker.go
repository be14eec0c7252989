package swapengine

import (
	"context"
	"time"
)

// paymentWorkerInterval is how often payPendingInvoicesLoop retries
// outstanding reverse-swap Lightning payments (spec.md §4.5.4: "every
// 1s").
const paymentWorkerInterval = time.Second

// payPendingInvoicesLoop implements spec.md §4.5.4: for each
// payment_hash awaiting a Lightning payment (the reverse-swap hold
// invoice path where the server role hasn't yet forwarded payment),
// retry once per tick as long as there is still enough time before the
// swap's locktime.
func (e *SwapEngine) payPendingInvoicesLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.paymentTck.Ticks():
			e.payPendingInvoicesOnce(context.Background())
		case <-e.quit:
			return
		}
	}
}

func (e *SwapEngine) payPendingInvoicesOnce(ctx context.Context) {
	height, err := e.cfg.Chain.LocalHeight()
	if err != nil {
		log.Errorf("pay pending invoices: local height: %v", err)
		return
	}

	for _, p := range e.pendingSnapshot() {
		d, ok := e.cfg.Store.GetByPaymentHash(p.PaymentHash)
		if !ok {
			e.unmarkPending(p.PaymentHash)
			continue
		}

		if int32(d.Locktime)-height <= MinLocktimeDelta {
			log.Debugf("pay pending invoices: %x too close to locktime, skipping", p.PaymentHash)
			continue
		}

		ok2, _, err := e.cfg.Lightning.PayInvoice(ctx, p.Bolt11, 1)
		if err != nil {
			log.Debugf("pay pending invoices: attempt for %x failed: %v", p.PaymentHash, err)
			continue
		}
		if ok2 {
			e.unmarkPending(p.PaymentHash)
		}
	}
}
