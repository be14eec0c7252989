package swap

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SpendState classifies the spend status of a chain output, replacing the
// source's None/height/LOCAL overload with an explicit enum (spec.md
// Design Notes: prefer explicit state over a reflective/overloaded field).
type SpendState int

const (
	// SpendStateUnspent means no spend has been observed.
	SpendStateUnspent SpendState = iota

	// SpendStateMempool means a spend is visible but unconfirmed.
	SpendStateMempool

	// SpendStateLocal means the spend is a transaction this side
	// broadcast itself but which has not yet propagated.
	SpendStateLocal

	// SpendStateConfirmed means the spend has at least one confirmation;
	// SpendConfHeight carries the height it confirmed at.
	SpendStateConfirmed
)

// ChainOutput describes one output observed at a watched address.
type ChainOutput struct {
	Txid  chainhash.Hash
	Vout  uint32
	Value int64

	Spent           SpendState
	SpendingTxid    chainhash.Hash
	SpendConfHeight int32

	// SpendingWitness is the witness stack of the transaction spending
	// this output, present once Spent != SpendStateUnspent.
	SpendingWitness [][]byte
}

// AddressEvent is the message an AddressWatcher delivers for one address.
// It replaces the source's SwapData-bound closure callback with plain
// data, per spec.md Design Notes "cyclic watcher callbacks → message
// passing": the engine looks the swap back up via SwapStore instead of
// the watcher holding a reference into swap state.
type AddressEvent struct {
	Address string
	Outputs []ChainOutput
}

// AddressWatcher is the external collaborator that surfaces on-chain
// activity for a lockup address. Concrete implementations (see package
// addrwatch) push AddressEvent values onto sink; they never call back
// into swap state directly.
type AddressWatcher interface {
	// Register starts delivering AddressEvent values for address onto
	// sink. Registration is idempotent per address.
	Register(address string, sink chan<- AddressEvent) error

	// Unregister stops delivery for address. Safe to call on an address
	// that was never registered.
	Unregister(address string)
}

// LightningLayer is the external collaborator responsible for invoice
// creation, HTLC routing, and preimage storage.
type LightningLayer interface {
	// CreateInvoice creates a hold or regular invoice for the given
	// payment hash and amount, returning its encoded bolt11 string.
	CreateInvoice(ctx context.Context, paymentHash chainhash.Hash, amtMsat int64, description string) (bolt11 string, err error)

	// GetPreimage returns the preimage for a payment hash if this node
	// already holds it (e.g. it is the invoice creator and it has been
	// settled), or nil if not known.
	GetPreimage(ctx context.Context, paymentHash chainhash.Hash) ([]byte, error)

	// PublishPreimage stores a learned preimage so a pending inbound
	// HTLC can be settled.
	PublishPreimage(ctx context.Context, paymentHash chainhash.Hash, preimage []byte) error

	// PayInvoice attempts to pay bolt11, making at most attempts tries.
	PayInvoice(ctx context.Context, bolt11 string, attempts int) (ok bool, log string, err error)

	// FailTrampolineForwarding instructs the Lightning layer to fail an
	// inbound HTLC that was trampoline-forwarded, identified by key.
	// The engine passes the swap's 32-byte payment hash as key; no
	// payment secret is appended.
	FailTrampolineForwarding(ctx context.Context, key []byte) error
}

// Chain is the external collaborator providing chain height and
// broadcast.
type Chain interface {
	LocalHeight() (int32, error)
	Broadcast(tx *wire.MsgTx) error
}

// Wallet is the external collaborator owning the UTXO database and
// signing keys used outside of the claim/refund path (e.g. funding the
// forward swap).
type Wallet interface {
	CreateTransaction(outputs []*wire.TxOut, rbf bool, password string) (*wire.MsgTx, error)
	GetReceivingAddress() (btcutil.Address, error)
}

// FeeEstimator supplies a fee rate for a given transaction size.
type FeeEstimator interface {
	FeeForVBytes(vbytes int64) (int64, error)
}
