// Package swapengine is the heart of the system: it creates forward and
// reverse swaps, reconciles chain activity reported by an
// swap.AddressWatcher against each swap's expected state, and runs the
// background worker that retries pending Lightning payments for the
// server role. It plays the same role lnd's contractcourt.ChainArbitrator
// plays for HTLC resolution, generalized from channel-force-close
// resolution to a standalone submarine-swap state machine, and it
// decouples watcher delivery from processing the way htlcswitch's
// mailbox decouples link delivery from switch processing, using the same
// lnd/queue.ConcurrentQueue primitive.
package swapengine

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lnswap/subswap/claimtx"
	"github.com/lnswap/subswap/feecalc"
	"github.com/lnswap/subswap/swap"
	"github.com/lnswap/subswap/swapstore"
)

// Constants from spec.md §6.
const (
	// MinLocktimeDelta is the minimum acceptable gap between the current
	// height and a reverse swap's locktime.
	MinLocktimeDelta = 60

	// MaxServerLocktimeWindow bounds how far in the future a forward
	// swap's server-chosen locktime may be, so the server cannot lock
	// funds for an unreasonable duration.
	MaxServerLocktimeWindow = 144

	// RedeemAfterDoubleSpentDelay is the number of confirmations a spend
	// of the funding output must accumulate before the swap is marked
	// is_redeemed, guarding against a reorg replacing it.
	RedeemAfterDoubleSpentDelay = 3
)

// ClaimPolicy governs whether the engine may build a claim transaction
// before its funding transaction has confirmed, mirroring the source's
// acceptZeroConf server flag (SPEC_FULL.md's "instant swap" addendum).
type ClaimPolicy struct {
	// AcceptZeroConf allows claiming against an unconfirmed funding
	// output.
	AcceptZeroConf bool

	// MaxZeroConfAmount caps the funding value AcceptZeroConf applies
	// to; above it, confirmation is always required regardless of the
	// flag.
	MaxZeroConfAmount int64
}

// Config collects every collaborator SwapEngine needs, supplied at
// construction per spec.md §9's "global state → context" Design Note.
type Config struct {
	Store        *swapstore.Store
	Chain        swap.Chain
	Lightning    swap.LightningLayer
	Wallet       swap.Wallet
	Watcher      swap.AddressWatcher
	Server       swap.SwapServer
	ClaimBuilder *claimtx.Builder
	FeeCalc      *feecalc.Calculator
	NetParams    *chaincfg.Params
	ClaimPolicy  ClaimPolicy
}

// SwapEngine implements spec.md §4.5's four entry points plus the
// periodic invoice-payment worker.
type SwapEngine struct {
	cfg Config

	addrEvents chan swap.AddressEvent
	mailbox    *queue.ConcurrentQueue
	paymentTck ticker.Ticker

	pendingMu       sync.Mutex
	pendingPayments map[chainhash.Hash]string

	invoiceMu     sync.Mutex
	invoiceBolt11 map[chainhash.Hash]string

	quit chan struct{}
	wg   sync.WaitGroup

	started sync.Once
	stopped sync.Once
}

// New constructs a SwapEngine from cfg. Callers must call Start before
// creating or resuming any swaps.
func New(cfg Config) *SwapEngine {
	return &SwapEngine{
		cfg:             cfg,
		addrEvents:      make(chan swap.AddressEvent, 64),
		mailbox:         queue.NewConcurrentQueue(64),
		paymentTck:      ticker.New(paymentWorkerInterval),
		pendingPayments: make(map[chainhash.Hash]string),
		invoiceBolt11:   make(map[chainhash.Hash]string),
		quit:            make(chan struct{}),
	}
}

// Start launches the watcher-event relay, the reconciliation loop, and
// the periodic invoice-payment worker. It also re-registers watcher
// callbacks for every non-terminal swap already in the store, per
// spec.md §6's restart note.
func (e *SwapEngine) Start() error {
	var startErr error
	e.started.Do(func() {
		e.mailbox.Start()
		e.paymentTck.Resume()

		e.wg.Add(2)
		go e.relayLoop()
		go e.reconcileLoop()

		e.wg.Add(1)
		go e.payPendingInvoicesLoop()

		for _, d := range e.cfg.Store.All() {
			if d.IsRedeemed {
				continue
			}
			if err := e.cfg.Watcher.Register(d.LockupAddress, e.addrEvents); err != nil {
				log.Errorf("resume: register watcher for %s: %v", d.LockupAddress, err)
			}
			// A pending outbound Lightning payment's bolt11 invoice is
			// not part of the persisted SwapData schema (spec.md §3) and
			// the in-memory invoice cache starts empty, so a hold-invoice
			// payment interrupted by restart is not resumed: a later
			// claim_swap callback finds no cached invoice for it and only
			// logs a warning.
		}
	})
	return startErr
}

// Stop shuts down every background goroutine.
func (e *SwapEngine) Stop() {
	e.stopped.Do(func() {
		close(e.quit)
		e.paymentTck.Stop()
		e.mailbox.Stop()
		e.wg.Wait()
	})
}

// relayLoop forwards watcher deliveries into the mailbox so a slow
// reconcileLoop iteration cannot block watcher delivery for other
// addresses.
func (e *SwapEngine) relayLoop() {
	defer e.wg.Done()
	for {
		select {
		case evt := <-e.addrEvents:
			select {
			case e.mailbox.ChanIn() <- evt:
			case <-e.quit:
				return
			}
		case <-e.quit:
			return
		}
	}
}

// reconcileLoop drains the mailbox and drives claim_swap for each
// delivered event.
func (e *SwapEngine) reconcileLoop() {
	defer e.wg.Done()
	for {
		select {
		case v := <-e.mailbox.ChanOut():
			evt, ok := v.(swap.AddressEvent)
			if !ok {
				continue
			}
			e.handleAddressEvent(context.Background(), evt)
		case <-e.quit:
			return
		}
	}
}

func (e *SwapEngine) markPending(paymentHash chainhash.Hash, bolt11 string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pendingPayments[paymentHash] = bolt11
}

func (e *SwapEngine) unmarkPending(paymentHash chainhash.Hash) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	delete(e.pendingPayments, paymentHash)
}

// recordInvoice remembers the bolt11 a reverse swap paid, so a later
// claim_swap callback that finds the Lightning payment still
// outstanding can hand it to markPending without it having to live in
// swap.Data's persisted schema.
func (e *SwapEngine) recordInvoice(paymentHash chainhash.Hash, bolt11 string) {
	e.invoiceMu.Lock()
	defer e.invoiceMu.Unlock()
	e.invoiceBolt11[paymentHash] = bolt11
}

func (e *SwapEngine) lookupInvoice(paymentHash chainhash.Hash) (string, bool) {
	e.invoiceMu.Lock()
	defer e.invoiceMu.Unlock()
	bolt11, ok := e.invoiceBolt11[paymentHash]
	return bolt11, ok
}

type pendingPayment struct {
	PaymentHash chainhash.Hash
	Bolt11      string
}

func (e *SwapEngine) pendingSnapshot() []pendingPayment {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	out := make([]pendingPayment, 0, len(e.pendingPayments))
	for h, bolt11 := range e.pendingPayments {
		out = append(out, pendingPayment{PaymentHash: h, Bolt11: bolt11})
	}
	return out
}
