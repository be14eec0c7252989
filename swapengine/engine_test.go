package swapengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnswap/subswap/claimtx"
	"github.com/lnswap/subswap/feecalc"
	"github.com/lnswap/subswap/swap"
	"github.com/lnswap/subswap/swapscript"
	"github.com/lnswap/subswap/swapstore"
	"github.com/stretchr/testify/require"
)

const (
	assertTimeout = 2 * time.Second
	assertTick    = 10 * time.Millisecond
)

// fakeChain is a minimal swap.Chain stub with a fixed, mutable height.
type fakeChain struct {
	mu        sync.Mutex
	height    int32
	broadcast []*wire.MsgTx
}

func (f *fakeChain) LocalHeight() (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeChain) Broadcast(tx *wire.MsgTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, tx)
	return nil
}

func (f *fakeChain) setHeight(h int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func (f *fakeChain) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcast)
}

func (f *fakeChain) lastBroadcast() *wire.MsgTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcast) == 0 {
		return nil
	}
	return f.broadcast[len(f.broadcast)-1]
}

// fakeLightning is a stub swap.LightningLayer recording calls and
// returning canned results.
type fakeLightning struct {
	mu        sync.Mutex
	preimages map[chainhash.Hash][]byte
	published map[chainhash.Hash][]byte
	failed    [][]byte
}

func newFakeLightning() *fakeLightning {
	return &fakeLightning{
		preimages: make(map[chainhash.Hash][]byte),
		published: make(map[chainhash.Hash][]byte),
	}
}

func (f *fakeLightning) CreateInvoice(ctx context.Context, paymentHash chainhash.Hash, amtMsat int64, description string) (string, error) {
	return "lnbc-fake-" + paymentHash.String(), nil
}

func (f *fakeLightning) GetPreimage(ctx context.Context, paymentHash chainhash.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preimages[paymentHash], nil
}

func (f *fakeLightning) PublishPreimage(ctx context.Context, paymentHash chainhash.Hash, preimage []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[paymentHash] = preimage
	return nil
}

func (f *fakeLightning) PayInvoice(ctx context.Context, bolt11 string, attempts int) (bool, string, error) {
	return true, "paid", nil
}

func (f *fakeLightning) FailTrampolineForwarding(ctx context.Context, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, key)
	return nil
}

// fakeWallet is a stub swap.Wallet returning a fixed receiving address
// and a funding transaction that pays exactly the requested outputs.
type fakeWallet struct {
	addr btcutil.Address
}

func (w *fakeWallet) CreateTransaction(outputs []*wire.TxOut, rbf bool, password string) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	return tx, nil
}

func (w *fakeWallet) GetReceivingAddress() (btcutil.Address, error) {
	return w.addr, nil
}

// fakeWatcher is a stub swap.AddressWatcher that records registrations
// and lets a test push events directly to the registered sink.
type fakeWatcher struct {
	mu    sync.Mutex
	sinks map[string]chan<- swap.AddressEvent
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{sinks: make(map[string]chan<- swap.AddressEvent)}
}

func (w *fakeWatcher) Register(address string, sink chan<- swap.AddressEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sinks[address] = sink
	return nil
}

func (w *fakeWatcher) Unregister(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sinks, address)
}

func (w *fakeWatcher) deliver(evt swap.AddressEvent) bool {
	w.mu.Lock()
	sink, ok := w.sinks[evt.Address]
	w.mu.Unlock()
	if !ok {
		return false
	}
	sink <- evt
	return true
}

// fakeServer is a stub swap.SwapServer that builds protocol-conformant
// responses from the real script templates, so tests can flip isolated
// knobs (amount, locktime) to exercise verification failures without
// needing a genuine signed Lightning invoice for every case.
type fakeServer struct {
	netParams *chaincfg.Params
	chain     *fakeChain

	forwardLocktimeDelta int64
	forwardAmountBump    int64

	reverseLocktimeDelta    int64
	reverseOnchainAmountAdj int64
}

func (s *fakeServer) CreateForwardSwap(ctx context.Context, req swap.CreateForwardSwapRequest) (swap.CreateForwardSwapResponse, error) {
	serverRefundPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return swap.CreateForwardSwapResponse{}, err
	}
	height, err := s.chain.LocalHeight()
	if err != nil {
		return swap.CreateForwardSwapResponse{}, err
	}
	// Within MaxServerLocktimeWindow (144) of height by default, so the
	// happy path doesn't trip the locktime-window check on its own.
	locktime := int64(height) + 100 + s.forwardLocktimeDelta

	script, err := swapscript.Build(swapscript.ForTemplate(false), swapscript.Substitutions{
		Hash160:      swapscript.Hash160FromPaymentHash(req.PaymentHash),
		ClaimPubkey:  swapscript.SerializePubkey(serverRefundPriv.PubKey()),
		RefundPubkey: req.RefundPubkey,
		Locktime:     locktime,
	})
	if err != nil {
		return swap.CreateForwardSwapResponse{}, err
	}

	addr, err := swapscript.P2WSHAddress(script, s.netParams)
	if err != nil {
		return swap.CreateForwardSwapResponse{}, err
	}

	return swap.CreateForwardSwapResponse{
		ID:                 "forward-1",
		ExpectedAmount:     req.InvoiceAmtSat + s.forwardAmountBump,
		TimeoutBlockHeight: uint32(locktime),
		Address:            addr.EncodeAddress(),
		RedeemScript:       script,
	}, nil
}

func (s *fakeServer) CreateReverseSwap(ctx context.Context, req swap.CreateReverseSwapRequest) (swap.CreateReverseSwapResponse, error) {
	serverClaimPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return swap.CreateReverseSwapResponse{}, err
	}
	height, err := s.chain.LocalHeight()
	if err != nil {
		return swap.CreateReverseSwapResponse{}, err
	}
	// Comfortably above MinLocktimeDelta (60) past height by default.
	locktime := int64(height) + 120 + s.reverseLocktimeDelta

	script, err := swapscript.Build(swapscript.ForTemplate(true), swapscript.Substitutions{
		Hash160:      swapscript.Hash160FromPaymentHash(req.PreimageHash),
		ClaimPubkey:  req.ClaimPubkey,
		RefundPubkey: swapscript.SerializePubkey(serverClaimPriv.PubKey()),
		Locktime:     locktime,
	})
	if err != nil {
		return swap.CreateReverseSwapResponse{}, err
	}

	addr, err := swapscript.P2WSHAddress(script, s.netParams)
	if err != nil {
		return swap.CreateReverseSwapResponse{}, err
	}

	return swap.CreateReverseSwapResponse{
		ID:                 "reverse-1",
		Invoice:            "lnbc-unroutable-placeholder",
		LockupAddress:      addr.EncodeAddress(),
		RedeemScript:       script,
		TimeoutBlockHeight: uint32(locktime),
		OnchainAmount:      req.InvoiceAmtSat + s.reverseOnchainAmountAdj,
	}, nil
}

func (s *fakeServer) GetPairs(ctx context.Context) (map[string]swap.PairInfo, error) {
	return nil, nil
}

func testCalculator() *feecalc.Calculator {
	return &feecalc.Calculator{
		PercentagePPM: feecalc.PercentageFromBasisPoints(0),
		NormalFee:     0,
		LockupFee:     0,
		ClaimFee:      0,
		MinAmount:     1,
		MaxAmount:     10_000_000,
		DustThreshold: 330,
	}
}

type fixedFeeForClaim int64

func (f fixedFeeForClaim) FeeForVBytes(vbytes int64) (int64, error) {
	return int64(f) * vbytes, nil
}

func testEngine(t *testing.T, chain *fakeChain, lightning *fakeLightning, server swap.SwapServer, watcher *fakeWatcher) (*SwapEngine, *swapstore.Store) {
	t.Helper()

	recvPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	recvAddr, err := btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(recvPriv.PubKey().SerializeCompressed()), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	store := swapstore.New()
	builder := claimtx.NewBuilder(fixedFeeForClaim(1), 330)

	e := New(Config{
		Store:        store,
		Chain:        chain,
		Lightning:    lightning,
		Wallet:       &fakeWallet{addr: recvAddr},
		Watcher:      watcher,
		Server:       server,
		ClaimBuilder: builder,
		FeeCalc:      testCalculator(),
		NetParams:    &chaincfg.RegressionNetParams,
		ClaimPolicy:  ClaimPolicy{AcceptZeroConf: true, MaxZeroConfAmount: 10_000_000},
	})
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)

	return e, store
}

func TestCreateForwardSwapHappyPath(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain}

	e, store := testEngine(t, chain, lightning, server, watcher)

	d, err := e.CreateForwardSwap(context.Background(), 100_000)
	require.NoError(t, err)
	require.False(t, d.IsReverse)
	require.Equal(t, 1, chain.broadcastCount())

	stored, ok := store.GetByPaymentHash(d.PaymentHash)
	require.True(t, ok)
	require.Equal(t, d.LockupAddress, stored.LockupAddress)
}

func TestCreateForwardSwapRejectsOversizedAmount(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain, forwardAmountBump: 1}

	e, _ := testEngine(t, chain, lightning, server, watcher)

	_, err := e.CreateForwardSwap(context.Background(), 100_000)
	require.ErrorIs(t, err, swap.ErrProtocolMismatch)
}

func TestCreateForwardSwapRejectsExcessiveLocktimeWindow(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain, forwardLocktimeDelta: 10_000}

	e, _ := testEngine(t, chain, lightning, server, watcher)

	_, err := e.CreateForwardSwap(context.Background(), 100_000)
	require.ErrorIs(t, err, swap.ErrProtocolMismatch)
}

func TestForwardSwapRefundOnExpiry(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain}

	e, store := testEngine(t, chain, lightning, server, watcher)

	d, err := e.CreateForwardSwap(context.Background(), 100_000)
	require.NoError(t, err)

	chain.setHeight(int32(d.Locktime) + 1)

	fundingTxid := chainhash.HashH([]byte("funding-tx"))
	delivered := watcher.deliver(swap.AddressEvent{
		Address: d.LockupAddress,
		Outputs: []swap.ChainOutput{{
			Txid:  fundingTxid,
			Vout:  0,
			Value: d.OnchainAmount,
			Spent: swap.SpendStateUnspent,
		}},
	})
	require.True(t, delivered)

	require.Eventually(t, func() bool {
		stored, ok := store.GetByPaymentHash(d.PaymentHash)
		return ok && stored.SpendingTxid != nil
	}, assertTimeout, assertTick)

	refundTx := chain.lastBroadcast()
	require.NotNil(t, refundTx)
	require.Equal(t, d.Locktime, refundTx.LockTime)
}

func TestForwardSwapRefundTooEarlyIsSkipped(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain}

	e, store := testEngine(t, chain, lightning, server, watcher)

	d, err := e.CreateForwardSwap(context.Background(), 100_000)
	require.NoError(t, err)

	// Height is still well short of d.Locktime: the timeout branch must
	// not be taken yet.
	fundingTxid := chainhash.HashH([]byte("funding-tx-early"))
	watcher.deliver(swap.AddressEvent{
		Address: d.LockupAddress,
		Outputs: []swap.ChainOutput{{
			Txid:  fundingTxid,
			Vout:  0,
			Value: d.OnchainAmount,
			Spent: swap.SpendStateUnspent,
		}},
	})

	require.Never(t, func() bool {
		stored, ok := store.GetByPaymentHash(d.PaymentHash)
		return ok && stored.SpendingTxid != nil
	}, 200*time.Millisecond, assertTick)
}

func TestCreateReverseSwapRejectsUnderpriced(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain, reverseOnchainAmountAdj: -1000}

	e, _ := testEngine(t, chain, lightning, server, watcher)

	_, err := e.CreateReverseSwap(context.Background(), 50_000)
	require.ErrorIs(t, err, swap.ErrProtocolMismatch)
}

func TestCreateReverseSwapRejectsShortLocktime(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain, reverseLocktimeDelta: -65}

	e, _ := testEngine(t, chain, lightning, server, watcher)

	_, err := e.CreateReverseSwap(context.Background(), 50_000)
	require.ErrorIs(t, err, swap.ErrProtocolMismatch)
}

// newTestReverseSwap builds a persisted reverse swap.Data with a real
// redeem script, the way store_test.go builds its fixtures, so watcher
// reconciliation tests can exercise the engine without going through
// CreateReverseSwap's full Lightning-invoice verification pipeline.
func newTestReverseSwap(t *testing.T, onchainAmount int64) *swap.Data {
	t.Helper()

	claimPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	refundPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var preimage [32]byte
	copy(preimage[:], chainhash.HashB([]byte("test-reverse-preimage")))
	paymentHash := chainhash.HashH(preimage[:])

	script, err := swapscript.Build(swapscript.ForTemplate(true), swapscript.Substitutions{
		Hash160:      swapscript.Hash160FromPaymentHash(paymentHash),
		ClaimPubkey:  swapscript.SerializePubkey(claimPriv.PubKey()),
		RefundPubkey: swapscript.SerializePubkey(refundPriv.PubKey()),
		Locktime:     900_000,
	})
	require.NoError(t, err)

	addr, err := swapscript.P2WSHAddress(script, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	var claimPrivBytes [32]byte
	copy(claimPrivBytes[:], claimPriv.Serialize())

	return &swap.Data{
		IsReverse:      true,
		Locktime:       900_000,
		OnchainAmount:  onchainAmount,
		RedeemScript:   script,
		Privkey:        claimPrivBytes,
		LockupAddress:  addr.EncodeAddress(),
		ReceiveAddress: addr.EncodeAddress(),
		PaymentHash:    paymentHash,
	}
}

func TestReverseSwapUnderpaymentIgnored(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain}

	e, store := testEngine(t, chain, lightning, server, watcher)

	d := newTestReverseSwap(t, 50_000)
	store.Upsert(d)
	require.NoError(t, watcher.Register(d.LockupAddress, e.addrEvents))

	underpaidTxid := chainhash.HashH([]byte("underpaid"))
	watcher.deliver(swap.AddressEvent{
		Address: d.LockupAddress,
		Outputs: []swap.ChainOutput{{
			Txid:  underpaidTxid,
			Vout:  0,
			Value: d.OnchainAmount - 1,
			Spent: swap.SpendStateUnspent,
		}},
	})

	require.Never(t, func() bool {
		stored, ok := store.GetByPaymentHash(d.PaymentHash)
		return ok && stored.FundingTxid != nil
	}, 200*time.Millisecond, assertTick)
}

func TestReverseSwapClaimUsesKnownPreimage(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain}

	e, store := testEngine(t, chain, lightning, server, watcher)

	d := newTestReverseSwap(t, 50_000)
	var preimage [32]byte
	copy(preimage[:], chainhash.HashB([]byte("test-reverse-preimage")))
	d.Preimage = preimage[:]
	store.Upsert(d)
	require.NoError(t, watcher.Register(d.LockupAddress, e.addrEvents))

	lightning.mu.Lock()
	lightning.preimages[d.PaymentHash] = preimage[:]
	lightning.mu.Unlock()

	fundingTxid := chainhash.HashH([]byte("reverse-funding"))
	watcher.deliver(swap.AddressEvent{
		Address: d.LockupAddress,
		Outputs: []swap.ChainOutput{{
			Txid:  fundingTxid,
			Vout:  0,
			Value: d.OnchainAmount,
			Spent: swap.SpendStateUnspent,
		}},
	})

	require.Eventually(t, func() bool {
		stored, ok := store.GetByPaymentHash(d.PaymentHash)
		return ok && stored.SpendingTxid != nil
	}, assertTimeout, assertTick)

	claimTx := chain.lastBroadcast()
	require.NotNil(t, claimTx)
	require.Equal(t, uint32(0), claimTx.LockTime)
}

func TestReapExpiredAbandonsUnfundedForwardSwap(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain}

	e, store := testEngine(t, chain, lightning, server, watcher)

	d, err := e.CreateForwardSwap(context.Background(), 100_000)
	require.NoError(t, err)

	require.Equal(t, StateCreated, DeriveState(d, int32(d.Locktime)-1))
	require.Equal(t, StateAbandoned, DeriveState(d, int32(d.Locktime)+1))

	e.ReapExpired(int32(d.Locktime) + 1)

	stored, ok := store.GetByPaymentHash(d.PaymentHash)
	require.True(t, ok)
	require.True(t, stored.IsRedeemed)
}

func TestReapExpiredLeavesFundedSwapAlone(t *testing.T) {
	chain := &fakeChain{height: 500}
	lightning := newFakeLightning()
	watcher := newFakeWatcher()
	server := &fakeServer{netParams: &chaincfg.RegressionNetParams, chain: chain}

	e, store := testEngine(t, chain, lightning, server, watcher)

	d, err := e.CreateForwardSwap(context.Background(), 100_000)
	require.NoError(t, err)

	fundingTxid := chainhash.HashH([]byte("funded-before-expiry"))
	d.FundingTxid = &fundingTxid
	d.FundingPrevout = &wire.OutPoint{Hash: fundingTxid, Index: 0}
	store.Upsert(d)

	e.ReapExpired(int32(d.Locktime) + 1)

	stored, ok := store.GetByPaymentHash(d.PaymentHash)
	require.True(t, ok)
	require.False(t, stored.IsRedeemed)
}

func TestDeriveStateRedeemedIsTerminal(t *testing.T) {
	d := &swap.Data{IsRedeemed: true}
	require.Equal(t, StateRedeemed, DeriveState(d, 100))
}

func TestDeriveStateReverseSwapClaimBroadcast(t *testing.T) {
	txid := chainhash.HashH([]byte("x"))
	d := &swap.Data{
		IsReverse:    true,
		FundingTxid:  &txid,
		SpendingTxid: &txid,
	}
	require.Equal(t, StateClaimBroadcast, DeriveState(d, 100))
}
