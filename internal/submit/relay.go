// Package submit implements the confidential-first transaction submission
// channel: signed transactions go to a private relay to avoid front-running,
// with a fallback to the public mempool when the relay is unavailable.
package submit

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayush101098/nexxore/internal/crypto"
	"github.com/ayush101098/nexxore/internal/domain"
)

// blockWindow is how many blocks a private transaction stays valid before
// the relay drops it.
const blockWindow = 10

// PublicSender is the fallback path: broadcast a raw transaction to the
// public mempool. Implemented by the EVM ledger client.
type PublicSender interface {
	SendRawTransaction(ctx context.Context, rawTx []byte) (txHash string, err error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// RelaySubmitter implements domain.Submitter against a Flashbots-compatible
// private relay with public fallback.
type RelaySubmitter struct {
	relayURL   string
	signer     *crypto.Signer
	fallback   PublicSender
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRelaySubmitter creates a RelaySubmitter. When relayURL is empty every
// submission goes straight to the public path.
func NewRelaySubmitter(relayURL string, signer *crypto.Signer, fallback PublicSender, logger *slog.Logger) *RelaySubmitter {
	return &RelaySubmitter{
		relayURL: relayURL,
		signer:   signer,
		fallback: fallback,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "submitter")),
	}
}

// rpcRequest is the JSON-RPC envelope for eth_sendPrivateTransaction.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit sends the raw signed transaction, confidential path first. Any
// relay failure falls back to public submission; only a failure of both
// paths is returned to the caller.
func (r *RelaySubmitter) Submit(ctx context.Context, rawTx []byte) (string, error) {
	if r.relayURL != "" {
		txHash, err := r.submitPrivate(ctx, rawTx)
		if err == nil {
			return txHash, nil
		}
		r.logger.WarnContext(ctx, "private relay submission failed, falling back to public",
			slog.String("error", err.Error()),
		)
	}

	txHash, err := r.fallback.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return "", fmt.Errorf("submit: public fallback: %w", err)
	}
	return txHash, nil
}

// submitPrivate sends the transaction through the private relay.
func (r *RelaySubmitter) submitPrivate(ctx context.Context, rawTx []byte) (string, error) {
	blockNum, err := r.fallback.BlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("submit: block number: %w", err)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendPrivateTransaction",
		Params: []any{map[string]string{
			"tx":             "0x" + hex.EncodeToString(rawTx),
			"maxBlockNumber": fmt.Sprintf("0x%x", blockNum+blockWindow),
		}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("submit: marshal rpc request: %w", err)
	}

	authHeader, err := r.signer.RelayAuthHeader(body)
	if err != nil {
		return "", fmt.Errorf("submit: relay auth: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.relayURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("submit: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Flashbots-Signature", authHeader)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit: relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("submit: relay status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("submit: decode relay response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("submit: relay error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == "" {
		return "", fmt.Errorf("submit: relay returned empty tx hash")
	}

	return rpcResp.Result, nil
}

// Compile-time interface check.
var _ domain.Submitter = (*RelaySubmitter)(nil)
