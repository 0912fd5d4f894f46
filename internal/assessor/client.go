// Package assessor implements the RiskAssessor port against the external
// risk-scoring service's HTTP API. The service's internal reasoning is
// opaque to the control loop; this package's job is transport plus strict
// validation of the response at the boundary.
package assessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayush101098/nexxore/internal/domain"
)

// Client is an HTTP client for the risk assessment service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the assessment service at baseURL. The API
// key is sent as a bearer token when non-empty.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// analyzeRequest is the request envelope for POST /v1/analyze.
type analyzeRequest struct {
	TVL           float64            `json:"tvl"`
	IdleBufferBps int64              `json:"idle_buffer_bps"`
	LastRebalance time.Time          `json:"last_rebalance"`
	Strategies    []strategyPayload  `json:"strategies"`
	Signals       []signalPayload    `json:"context_signals,omitempty"`
}

type strategyPayload struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	CurrentBps     int64   `json:"current_bps"`
	MaxBps         int64   `json:"max_bps"`
	TotalDeposited float64 `json:"total_deposited"`
	CurrentAPY     float64 `json:"current_apy"`
	Utilization    float64 `json:"utilization"`
}

type signalPayload struct {
	Source   string `json:"source"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
}

// analyzeResponse mirrors the service's JSON schema. Scores are basis points.
type analyzeResponse struct {
	CompositeScore    int64            `json:"composite_score"`
	ProtocolRisk      int64            `json:"protocol_risk"`
	LiquidityRisk     int64            `json:"liquidity_risk"`
	UtilizationRisk   int64            `json:"utilization_risk"`
	GovernanceRisk    int64            `json:"governance_risk"`
	OracleRisk        int64            `json:"oracle_risk"`
	RiskLevel         string           `json:"risk_level"`
	RecommendedAction string           `json:"recommended_action"`
	ActionUrgency     string           `json:"action_urgency"`
	Reasoning         string           `json:"reasoning"`
	StrategyRisks     map[string]int64 `json:"strategy_risks"`
	Alerts            []string         `json:"alerts"`
	ShouldUnwind      bool             `json:"should_emergency_unwind"`
	UnwindStrategies  []string         `json:"unwind_strategies"`
}

// Analyze submits the snapshot and context signals for scoring and returns a
// fully validated RiskAnalysis. Malformed responses are rejected here rather
// than propagated inward.
func (c *Client) Analyze(ctx context.Context, snap domain.AllocationSnapshot, signals []domain.ContextSignal) (domain.RiskAnalysis, error) {
	reqBody := analyzeRequest{
		TVL:           snap.TVL,
		IdleBufferBps: snap.IdleBufferBps,
		LastRebalance: snap.LastRebalanceTime,
	}
	for _, a := range snap.Allocations {
		reqBody.Strategies = append(reqBody.Strategies, strategyPayload{
			ID:             a.ID,
			Name:           a.Name,
			CurrentBps:     a.CurrentBps,
			MaxBps:         a.MaxBps,
			TotalDeposited: a.TotalDeposited,
			CurrentAPY:     a.CurrentAPY,
			Utilization:    a.Utilization,
		})
	}
	for _, s := range signals {
		reqBody.Signals = append(reqBody.Signals, signalPayload{
			Source:   s.Source,
			Severity: string(s.Severity),
			Title:    s.Title,
			Detail:   s.Detail,
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("assessor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("assessor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("assessor: analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.RiskAnalysis{}, fmt.Errorf("assessor: analyze status %d: %s", resp.StatusCode, string(respBody))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("assessor: read response: %w", err)
	}

	return parseAnalysis(raw)
}

// parseAnalysis decodes and validates a service response.
func parseAnalysis(raw []byte) (domain.RiskAnalysis, error) {
	var r analyzeResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("assessor: decode response: %w (%w)", err, domain.ErrMalformedPayload)
	}

	a := domain.RiskAnalysis{
		Timestamp:         time.Now().UTC(),
		CompositeScore:    r.CompositeScore,
		ProtocolRisk:      r.ProtocolRisk,
		LiquidityRisk:     r.LiquidityRisk,
		UtilizationRisk:   r.UtilizationRisk,
		GovernanceRisk:    r.GovernanceRisk,
		OracleRisk:        r.OracleRisk,
		RiskLevel:         domain.RiskLevel(r.RiskLevel),
		RecommendedAction: r.RecommendedAction,
		Urgency:           r.ActionUrgency,
		Reasoning:         r.Reasoning,
		StrategyRisks:     r.StrategyRisks,
		Alerts:            r.Alerts,
		ShouldUnwind:      r.ShouldUnwind,
		UnwindStrategyIDs: r.UnwindStrategies,
	}
	if err := a.Validate(); err != nil {
		return domain.RiskAnalysis{}, fmt.Errorf("assessor: %w: %w", domain.ErrMalformedPayload, err)
	}
	return a, nil
}

// Compile-time interface check.
var _ domain.RiskAssessor = (*Client)(nil)
