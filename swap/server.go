package swap

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CreateForwardSwapRequest is the body of POST /createswap for a forward
// swap (spec.md §6): the client pays on-chain, so the server holds the
// claim branch of the lockup script and the client's own pubkey sits on
// the refund branch, the inverse of a reverse swap, where the client
// holds the claim branch.
type CreateForwardSwapRequest struct {
	PaymentHash     chainhash.Hash
	RefundPubkey    [33]byte
	InvoiceAmtSat   int64
	LightningBolt11 string
}

// CreateForwardSwapResponse is the forward-swap server response fields
// named in spec.md §6.
type CreateForwardSwapResponse struct {
	ID                 string
	AcceptZeroConf     bool
	ExpectedAmount     int64
	TimeoutBlockHeight uint32
	Address            string
	RedeemScript       []byte
}

// CreateReverseSwapRequest is the body of POST /createswap for a reverse
// swap.
type CreateReverseSwapRequest struct {
	InvoiceAmtSat int64
	PreimageHash  chainhash.Hash
	ClaimPubkey   [33]byte
}

// CreateReverseSwapResponse is the reverse-swap server response fields
// named in spec.md §6.
type CreateReverseSwapResponse struct {
	ID                 string
	Invoice            string
	MinerFeeInvoice    string
	LockupAddress      string
	RedeemScript       []byte
	TimeoutBlockHeight uint32
	OnchainAmount      int64
}

// PairFees and PairLimits mirror the nested JSON shape of GET /getpairs
// (spec.md §6).
type PairFees struct {
	PercentagePPM int64
	NormalFee     int64
	LockupFee     int64
	ClaimFee      int64
}

type PairLimits struct {
	Minimal int64
	Maximal int64
}

// PairInfo is one pair's entry from GET /getpairs.
type PairInfo struct {
	Fees   PairFees
	Limits PairLimits
}

// SwapServer is the external collaborator talking to the remote swap
// server over HTTP (implemented by package swapserver). SwapEngine
// depends on this narrow interface rather than the concrete HTTP client,
// the same way it depends on Chain/Wallet/LightningLayer rather than
// their implementations.
type SwapServer interface {
	CreateForwardSwap(ctx context.Context, req CreateForwardSwapRequest) (CreateForwardSwapResponse, error)
	CreateReverseSwap(ctx context.Context, req CreateReverseSwapRequest) (CreateReverseSwapResponse, error)
	GetPairs(ctx context.Context) (map[string]PairInfo, error)
}
