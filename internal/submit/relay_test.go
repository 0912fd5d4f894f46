package submit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/crypto"
)

// Well-known throwaway key, never funded.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeSender struct {
	txHash   string
	err      error
	blockNum uint64
	calls    int
}

func (f *fakeSender) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	f.calls++
	return f.txHash, f.err
}

func (f *fakeSender) BlockNumber(ctx context.Context) (uint64, error) {
	return f.blockNum, nil
}

func newTestSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	signer, err := crypto.NewSigner(testKeyHex, 1)
	require.NoError(t, err)
	return signer
}

func TestSubmitPrivateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("X-Flashbots-Signature"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req rpcRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "eth_sendPrivateTransaction", req.Method)

		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "0xabc123",
		})
	}))
	defer srv.Close()

	fallback := &fakeSender{blockNum: 100}
	sub := NewRelaySubmitter(srv.URL, newTestSigner(t), fallback, slog.New(slog.DiscardHandler))

	txHash, err := sub.Submit(context.Background(), []byte{0x02, 0xf8, 0x01})
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", txHash)
	assert.Zero(t, fallback.calls, "public path should not be used when relay succeeds")
}

func TestSubmitFallsBackOnRelayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fallback := &fakeSender{txHash: "0xpublic", blockNum: 100}
	sub := NewRelaySubmitter(srv.URL, newTestSigner(t), fallback, slog.New(slog.DiscardHandler))

	txHash, err := sub.Submit(context.Background(), []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, "0xpublic", txHash)
	assert.Equal(t, 1, fallback.calls)
}

func TestSubmitNoRelayGoesPublic(t *testing.T) {
	fallback := &fakeSender{txHash: "0xdirect"}
	sub := NewRelaySubmitter("", newTestSigner(t), fallback, slog.New(slog.DiscardHandler))

	txHash, err := sub.Submit(context.Background(), []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, "0xdirect", txHash)
}

func TestSubmitBothPathsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "bundle rejected"},
		})
	}))
	defer srv.Close()

	fallback := &fakeSender{err: errors.New("mempool rejected"), blockNum: 5}
	sub := NewRelaySubmitter(srv.URL, newTestSigner(t), fallback, slog.New(slog.DiscardHandler))

	_, err := sub.Submit(context.Background(), []byte{0x02})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public fallback")
}
