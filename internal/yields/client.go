// Package yields fetches per-strategy APY data from an external yields
// aggregator API. The vault contract does not expose live APY, so the ledger
// layer enriches snapshots through this client before optimization.
package yields

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Source yields the current fractional APY for a named strategy pool.
type Source interface {
	StrategyAPY(ctx context.Context, pool string) (float64, error)
}

// cacheTTL bounds how stale a cached APY may be before a refetch.
const cacheTTL = 5 * time.Minute

// Client queries a DefiLlama-style pools endpoint and caches results.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedAPY
}

type cachedAPY struct {
	apy       float64
	fetchedAt time.Time
}

// NewClient creates a yields Client for the given aggregator base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache: make(map[string]cachedAPY),
	}
}

// poolsResponse is the aggregator's response envelope.
type poolsResponse struct {
	Data []struct {
		Pool string  `json:"pool"`
		APY  float64 `json:"apy"` // percentage, e.g. 5.2
	} `json:"data"`
}

// StrategyAPY returns the fractional APY for the given pool identifier,
// serving from cache within the TTL. A pool missing from the aggregator is
// an error; the caller decides how to degrade.
func (c *Client) StrategyAPY(ctx context.Context, pool string) (float64, error) {
	c.mu.Lock()
	if hit, ok := c.cache[pool]; ok && time.Since(hit.fetchedAt) < cacheTTL {
		c.mu.Unlock()
		return hit.apy, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pools", nil)
	if err != nil {
		return 0, fmt.Errorf("yields: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("yields: fetch pools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("yields: pools status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, fmt.Errorf("yields: read pools: %w", err)
	}

	var parsed poolsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("yields: decode pools: %w", err)
	}

	// Refresh the whole cache from one response; the endpoint returns all
	// pools in a single payload.
	now := time.Now()
	c.mu.Lock()
	for _, p := range parsed.Data {
		c.cache[p.Pool] = cachedAPY{apy: p.APY / 100, fetchedAt: now}
	}
	hit, ok := c.cache[pool]
	c.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("yields: pool %q not found", pool)
	}
	return hit.apy, nil
}

// Compile-time interface check.
var _ Source = (*Client)(nil)
