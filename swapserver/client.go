// Package swapserver implements the outbound half of the swap-server HTTP
// API as a concrete swap.SwapServer: POST /createswap and GET /getpairs,
// plus an on-disk cache of the last successful pairs response.
package swapserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/lnswap/subswap/swap"
)

// defaultTimeout bounds every request made to the swap server; the
// engine's own context can still cancel a call earlier.
const defaultTimeout = 30 * time.Second

// pairsCacheFile is the name of the on-disk cache populated by GetPairs,
// matching spec.md §6's "Persisted state" note on swap_pairs.
const pairsCacheFile = "swap_pairs"

// Client is a concrete swap.SwapServer backed by net/http.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dataDir    string

	mu         sync.RWMutex
	lastPairs  map[string]swap.PairInfo
}

// NewClient builds a Client talking to baseURL (e.g.
// "https://api.example.com/v1"), caching GetPairs results under dataDir.
func NewClient(baseURL, dataDir string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dataDir: dataDir,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type createSwapRequest struct {
	Type            string `json:"type"`
	PaymentHash     string `json:"paymentHash,omitempty"`
	RefundPubkey    string `json:"refundPublicKey,omitempty"`
	ClaimPubkey     string `json:"claimPublicKey,omitempty"`
	InvoiceAmtSat   int64  `json:"invoiceAmount,omitempty"`
	LightningBolt11 string `json:"invoiceBolt11,omitempty"`
	PreimageHash    string `json:"preimageHash,omitempty"`
}

type createSwapResponse struct {
	ID                 string `json:"id"`
	AcceptZeroConf     bool   `json:"acceptZeroConf"`
	ExpectedAmount     int64  `json:"expectedAmount"`
	OnchainAmount      int64  `json:"onchainAmount"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight"`
	Address            string `json:"address"`
	LockupAddress      string `json:"lockupAddress"`
	RedeemScript       string `json:"redeemScript"`
	Invoice            string `json:"invoice"`
	MinerFeeInvoice    string `json:"minerFeeInvoice"`
}

// CreateForwardSwap implements swap.SwapServer.
func (c *Client) CreateForwardSwap(ctx context.Context, req swap.CreateForwardSwapRequest) (swap.CreateForwardSwapResponse, error) {
	body := createSwapRequest{
		Type:            "submarine",
		PaymentHash:     fmt.Sprintf("%x", req.PaymentHash[:]),
		RefundPubkey:    fmt.Sprintf("%x", req.RefundPubkey[:]),
		InvoiceAmtSat:   req.InvoiceAmtSat,
		LightningBolt11: req.LightningBolt11,
	}

	var resp createSwapResponse
	if err := c.post(ctx, "/createswap", body, &resp); err != nil {
		return swap.CreateForwardSwapResponse{}, err
	}

	redeemScript, err := decodeHex(resp.RedeemScript)
	if err != nil {
		return swap.CreateForwardSwapResponse{}, errors.WrapPrefix(err, "swapserver: decode redeemScript", 0)
	}

	return swap.CreateForwardSwapResponse{
		ID:                 resp.ID,
		AcceptZeroConf:     resp.AcceptZeroConf,
		ExpectedAmount:     resp.ExpectedAmount,
		TimeoutBlockHeight: resp.TimeoutBlockHeight,
		Address:            resp.Address,
		RedeemScript:       redeemScript,
	}, nil
}

// CreateReverseSwap implements swap.SwapServer.
func (c *Client) CreateReverseSwap(ctx context.Context, req swap.CreateReverseSwapRequest) (swap.CreateReverseSwapResponse, error) {
	body := createSwapRequest{
		Type:          "reversesubmarine",
		PreimageHash:  fmt.Sprintf("%x", req.PreimageHash[:]),
		ClaimPubkey:   fmt.Sprintf("%x", req.ClaimPubkey[:]),
		InvoiceAmtSat: req.InvoiceAmtSat,
	}

	var resp createSwapResponse
	if err := c.post(ctx, "/createswap", body, &resp); err != nil {
		return swap.CreateReverseSwapResponse{}, err
	}

	redeemScript, err := decodeHex(resp.RedeemScript)
	if err != nil {
		return swap.CreateReverseSwapResponse{}, errors.WrapPrefix(err, "swapserver: decode redeemScript", 0)
	}

	return swap.CreateReverseSwapResponse{
		ID:                 resp.ID,
		Invoice:            resp.Invoice,
		MinerFeeInvoice:    resp.MinerFeeInvoice,
		LockupAddress:      resp.LockupAddress,
		RedeemScript:       redeemScript,
		TimeoutBlockHeight: resp.TimeoutBlockHeight,
		OnchainAmount:      resp.OnchainAmount,
	}, nil
}

// GetPairs implements swap.SwapServer. On transport failure it falls back
// to the last response persisted to disk, matching spec.md §6's
// "Persisted state" note that swap_pairs survives a restart without a
// reachable server.
func (c *Client) GetPairs(ctx context.Context) (map[string]swap.PairInfo, error) {
	var pairs map[string]swap.PairInfo
	err := c.get(ctx, "/getpairs", &struct {
		Pairs *map[string]swap.PairInfo `json:"pairs"`
	}{Pairs: &pairs})
	if err != nil {
		if cached, ok := c.loadCachedPairs(); ok {
			log.Warnf("getpairs: %v, falling back to cached pairs", err)
			return cached, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.lastPairs = pairs
	c.mu.Unlock()
	c.savePairsCache(pairs)

	return pairs, nil
}

func (c *Client) loadCachedPairs() (map[string]swap.PairInfo, bool) {
	c.mu.RLock()
	if c.lastPairs != nil {
		defer c.mu.RUnlock()
		return c.lastPairs, true
	}
	c.mu.RUnlock()

	if c.dataDir == "" {
		return nil, false
	}
	raw, err := os.ReadFile(filepath.Join(c.dataDir, pairsCacheFile))
	if err != nil {
		return nil, false
	}
	var pairs map[string]swap.PairInfo
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, false
	}
	return pairs, true
}

func (c *Client) savePairsCache(pairs map[string]swap.PairInfo) {
	if c.dataDir == "" {
		return
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		log.Errorf("getpairs: marshal cache: %v", err)
		return
	}
	if err := os.MkdirAll(c.dataDir, 0700); err != nil {
		log.Errorf("getpairs: create data dir: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(c.dataDir, pairsCacheFile), raw, 0600); err != nil {
		log.Errorf("getpairs: write cache: %v", err)
	}
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.WrapPrefix(err, "swapserver: build request", 0)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.WrapPrefix(err, "swapserver: marshal request", 0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.WrapPrefix(err, "swapserver: build request", 0)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapPrefix(swap.ErrSwapServerUnreachable, err.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.WrapPrefix(swap.ErrSwapServerUnreachable,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), 0)
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
