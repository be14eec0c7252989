package swapserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lnswap/subswap/swap"
	"github.com/stretchr/testify/require"
)

func TestCreateForwardSwapDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/createswap", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var body createSwapRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "submarine", body.Type)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(createSwapResponse{
			ID:                 "abc123",
			ExpectedAmount:     50000,
			TimeoutBlockHeight: 700100,
			Address:            "bcrt1qexampleaddress",
			RedeemScript:       "76a914aabbccdd",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	resp, err := client.CreateForwardSwap(context.Background(), requestFixture())
	require.NoError(t, err)
	require.Equal(t, "abc123", resp.ID)
	require.Equal(t, int64(50000), resp.ExpectedAmount)
	require.Equal(t, uint32(700100), resp.TimeoutBlockHeight)
	require.Equal(t, []byte{0x76, 0xa9, 0x14, 0xaa, 0xbb, 0xcc, 0xdd}, resp.RedeemScript)
}

func TestCreateForwardSwapSurfacesUnreachableOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.CreateForwardSwap(context.Background(), requestFixture())
	require.Error(t, err)
}

func TestGetPairsCachesToDisk(t *testing.T) {
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getpairs", r.URL.Path)
		w.Write([]byte(`{"pairs":{"BTC/LN":{"Fees":{"PercentagePPM":1000,"NormalFee":200,"LockupFee":100,"ClaimFee":150},"Limits":{"Minimal":10000,"Maximal":4000000}}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, dir)
	pairs, err := client.GetPairs(context.Background())
	require.NoError(t, err)
	require.Contains(t, pairs, "BTC/LN")
	require.Equal(t, int64(1000), pairs["BTC/LN"].Fees.PercentagePPM)

	cached, err := os.ReadFile(filepath.Join(dir, pairsCacheFile))
	require.NoError(t, err)
	require.Contains(t, string(cached), "BTC/LN")
}

func TestGetPairsFallsBackToCacheOnTransportFailure(t *testing.T) {
	dir := t.TempDir()

	up := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"pairs":{"BTC/LN":{"Fees":{"PercentagePPM":500},"Limits":{"Minimal":1,"Maximal":2}}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, dir)
	_, err := client.GetPairs(context.Background())
	require.NoError(t, err)

	up = false
	pairs, err := client.GetPairs(context.Background())
	require.NoError(t, err)
	require.Contains(t, pairs, "BTC/LN")
}

func requestFixture() swap.CreateForwardSwapRequest {
	var hash chainhash.Hash
	var refundPubkey [33]byte
	return swap.CreateForwardSwapRequest{
		PaymentHash:     hash,
		RefundPubkey:    refundPubkey,
		InvoiceAmtSat:   100000,
		LightningBolt11: "lnbc-fake",
	}
}
