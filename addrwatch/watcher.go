// Package addrwatch implements swap.AddressWatcher against an
// Electrum-style JSON-RPC server reached over a websocket transport:
// blockchain.address.subscribe notifications drive a re-fetch of the
// address's unspent and spending outputs, translated into plain
// swap.AddressEvent messages for the engine.
package addrwatch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/go-errors/errors"
	"github.com/gorilla/websocket"
	"github.com/lnswap/subswap/swap"
)

// reconnectDelay is the backoff between dial attempts after the
// connection to the server drops.
const reconnectDelay = 5 * time.Second

// rpcRequest and rpcResponse mirror Electrum's JSON-RPC-over-websocket
// framing: every call carries an integer id; notifications (server-
// initiated messages, e.g. a subscribed address's status changing) carry
// no id and are matched on Method instead.
type rpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

// Watcher is a concrete swap.AddressWatcher dialing an Electrum-style
// server over a websocket connection.
type Watcher struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	sinks    map[string]chan<- swap.AddressEvent
	pending  map[uint64]chan rpcResponse
	nextID   uint64
	quit     chan struct{}
	quitOnce sync.Once

	// writeMu serializes writes to conn: gorilla/websocket forbids
	// concurrent writers, but call() can be invoked concurrently from
	// Register and from notification handling goroutines.
	writeMu sync.Mutex
}

// New builds a Watcher that will dial serverURL once Start is called.
func New(serverURL string) *Watcher {
	return &Watcher{
		url:     serverURL,
		sinks:   make(map[string]chan<- swap.AddressEvent),
		pending: make(map[uint64]chan rpcResponse),
		quit:    make(chan struct{}),
	}
}

// Start dials the server and begins the read loop, reconnecting with a
// fixed backoff until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.dial(); err != nil {
		return errors.WrapPrefix(err, "addrwatch: initial dial", 0)
	}
	go w.runLoop(ctx)
	return nil
}

// Stop closes the connection and releases the read loop.
func (w *Watcher) Stop() {
	w.quitOnce.Do(func() { close(w.quit) })
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.mu.Unlock()
}

func (w *Watcher) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return nil
}

func (w *Watcher) runLoop(ctx context.Context) {
	for {
		err := w.readLoop(ctx)
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		log.Errorf("connection to %s lost: %v, reconnecting in %s", w.url, err, reconnectDelay)
		select {
		case <-time.After(reconnectDelay):
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		}
		if err := w.dial(); err != nil {
			log.Errorf("reconnect to %s failed: %v", w.url, err)
			continue
		}
		w.resubscribeAll(ctx)
	}
}

func (w *Watcher) readLoop(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	for {
		var msg rpcResponse
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch {
		case msg.Method == "blockchain.address.subscribe":
			// Handled off the read goroutine: building the event makes
			// further RPC calls whose responses this same goroutine
			// must still be free to read.
			go w.handleSubscriptionNotification(ctx, msg.Params)
		case msg.ID != 0:
			w.deliverPending(msg)
		}
	}
}

func (w *Watcher) deliverPending(msg rpcResponse) {
	w.mu.Lock()
	ch, ok := w.pending[msg.ID]
	if ok {
		delete(w.pending, msg.ID)
	}
	w.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (w *Watcher) handleSubscriptionNotification(ctx context.Context, params json.RawMessage) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		log.Errorf("malformed subscribe notification: %v", err)
		return
	}
	address := args[0]

	w.mu.Lock()
	sink, ok := w.sinks[address]
	w.mu.Unlock()
	if !ok {
		return
	}

	outputs, err := w.fetchOutputs(ctx, address)
	if err != nil {
		log.Errorf("fetch outputs for %s: %v", address, err)
		return
	}

	sink <- swap.AddressEvent{Address: address, Outputs: outputs}
}

// Register implements swap.AddressWatcher: it records sink and issues a
// blockchain.address.subscribe call, matching Electrum's subscription
// model (spec.md §9's message-passing redesign of the source's
// closure-capturing add_callback).
func (w *Watcher) Register(address string, sink chan<- swap.AddressEvent) error {
	w.mu.Lock()
	w.sinks[address] = sink
	w.mu.Unlock()

	_, err := w.call(context.Background(), "blockchain.address.subscribe", []interface{}{address})
	return err
}

// Unregister implements swap.AddressWatcher. Electrum has no true
// unsubscribe verb; dropping the local sink is sufficient since a
// notification for an address with no registered sink is simply
// discarded by handleSubscriptionNotification.
func (w *Watcher) Unregister(address string) {
	w.mu.Lock()
	delete(w.sinks, address)
	w.mu.Unlock()
}

func (w *Watcher) resubscribeAll(ctx context.Context) {
	w.mu.Lock()
	addresses := make([]string, 0, len(w.sinks))
	for addr := range w.sinks {
		addresses = append(addresses, addr)
	}
	w.mu.Unlock()

	for _, addr := range addresses {
		if _, err := w.call(ctx, "blockchain.address.subscribe", []interface{}{addr}); err != nil {
			log.Errorf("resubscribe %s: %v", addr, err)
		}
	}
}

// fetchOutputs reconciles an address's unspent outputs and, for those
// already spent, the spending transaction's witness and confirmation
// height, into swap.ChainOutput values.
func (w *Watcher) fetchOutputs(ctx context.Context, address string) ([]swap.ChainOutput, error) {
	resp, err := w.call(ctx, "blockchain.address.listunspent", []interface{}{address})
	if err != nil {
		return nil, err
	}

	var unspent []struct {
		TxHash string `json:"tx_hash"`
		TxPos  uint32 `json:"tx_pos"`
		Value  int64  `json:"value"`
		Height int32  `json:"height"`
	}
	if err := json.Unmarshal(resp, &unspent); err != nil {
		return nil, errors.WrapPrefix(err, "addrwatch: decode listunspent", 0)
	}

	outputs := make([]swap.ChainOutput, 0, len(unspent))
	for _, u := range unspent {
		txid, err := chainhash.NewHashFromStr(u.TxHash)
		if err != nil {
			return nil, errors.WrapPrefix(err, "addrwatch: parse txid", 0)
		}
		outputs = append(outputs, swap.ChainOutput{
			Txid:  *txid,
			Vout:  u.TxPos,
			Value: u.Value,
			Spent: swap.SpendStateUnspent,
		})
	}

	history, err := w.addressHistory(ctx, address)
	if err != nil {
		return nil, err
	}
	return w.reconcileSpends(ctx, outputs, history)
}

type historyEntry struct {
	TxHash string `json:"tx_hash"`
	Height int32  `json:"height"`
}

func (w *Watcher) addressHistory(ctx context.Context, address string) ([]historyEntry, error) {
	resp, err := w.call(ctx, "blockchain.address.get_history", []interface{}{address})
	if err != nil {
		return nil, err
	}
	var history []historyEntry
	if err := json.Unmarshal(resp, &history); err != nil {
		return nil, errors.WrapPrefix(err, "addrwatch: decode get_history", 0)
	}
	return history, nil
}

// reconcileSpends walks the address's transaction history looking for a
// transaction that spends one of the currently-unspent outputs; Electrum
// does not report spend state directly, so the lockup output is assumed
// spent once it no longer appears in listunspent but still appears in
// get_history, and the spending transaction's witness is fetched to
// classify it.
func (w *Watcher) reconcileSpends(ctx context.Context, unspent []swap.ChainOutput, history []historyEntry) ([]swap.ChainOutput, error) {
	if len(unspent) > 0 || len(history) == 0 {
		return unspent, nil
	}

	latest := history[len(history)-1]
	txid, err := chainhash.NewHashFromStr(latest.TxHash)
	if err != nil {
		return nil, errors.WrapPrefix(err, "addrwatch: parse spending txid", 0)
	}

	tx, err := w.transaction(ctx, latest.TxHash)
	if err != nil {
		return nil, err
	}

	spendState := swap.SpendStateMempool
	if latest.Height > 0 {
		spendState = swap.SpendStateConfirmed
	}

	return []swap.ChainOutput{{
		Spent:           spendState,
		SpendingTxid:    *txid,
		SpendConfHeight: latest.Height,
		SpendingWitness: tx.witness,
	}}, nil
}

type decodedTx struct {
	witness [][]byte
}

func (w *Watcher) transaction(ctx context.Context, txHash string) (decodedTx, error) {
	resp, err := w.call(ctx, "blockchain.transaction.get", []interface{}{txHash, true})
	if err != nil {
		return decodedTx{}, err
	}

	var raw struct {
		Vin []struct {
			Witness []string `json:"witness"`
		} `json:"vin"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil || len(raw.Vin) == 0 {
		return decodedTx{}, nil
	}

	witness := make([][]byte, 0, len(raw.Vin[0].Witness))
	for _, item := range raw.Vin[0].Witness {
		b, err := decodeHexWitnessItem(item)
		if err != nil {
			return decodedTx{}, err
		}
		witness = append(witness, b)
	}
	return decodedTx{witness: witness}, nil
}

func decodeHexWitnessItem(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func (w *Watcher) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := atomic.AddUint64(&w.nextID, 1)
	reply := make(chan rpcResponse, 1)

	w.mu.Lock()
	w.pending[id] = reply
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return nil, errors.New("addrwatch: not connected")
	}
	w.writeMu.Lock()
	err := conn.WriteJSON(rpcRequest{ID: id, Method: method, Params: params})
	w.writeMu.Unlock()
	if err != nil {
		return nil, errors.WrapPrefix(err, fmt.Sprintf("addrwatch: write %s", method), 0)
	}

	select {
	case resp := <-reply:
		if resp.Error != nil {
			return nil, errors.WrapPrefix(resp.Error, fmt.Sprintf("addrwatch: %s", method), 0)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, errors.New("addrwatch: stopped")
	}
}
