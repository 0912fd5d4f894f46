package assessor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/domain"
)

const validResponse = `{
	"composite_score": 4200,
	"protocol_risk": 3800,
	"liquidity_risk": 4100,
	"utilization_risk": 5200,
	"governance_risk": 3500,
	"oracle_risk": 4400,
	"risk_level": "NORMAL",
	"recommended_action": "continue normal operations",
	"action_urgency": "LOW",
	"reasoning": "utilization within bounds",
	"strategy_risks": {"aave": 3600},
	"alerts": [],
	"should_emergency_unwind": false,
	"unwind_strategies": []
}`

func TestParseAnalysisValid(t *testing.T) {
	a, err := parseAnalysis([]byte(validResponse))
	require.NoError(t, err)
	assert.Equal(t, int64(4200), a.CompositeScore)
	assert.Equal(t, domain.RiskNormal, a.RiskLevel)
	assert.False(t, a.ShouldUnwind)
	assert.Equal(t, int64(3600), a.StrategyRisks["aave"])
}

func TestParseAnalysisRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `composite_score: 4200`},
		{"score out of range", `{"composite_score": 20000, "risk_level": "NORMAL"}`},
		{"negative component", `{"composite_score": 4200, "protocol_risk": -5, "risk_level": "NORMAL"}`},
		{"unknown level", `{"composite_score": 4200, "risk_level": "PANIC"}`},
		{"unwind without strategies", `{"composite_score": 4200, "risk_level": "NORMAL", "should_emergency_unwind": true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseAnalysis([]byte(tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestAnalyzeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(validResponse))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	snap := domain.AllocationSnapshot{
		TVL: 10_000_000,
		Allocations: []domain.StrategyAllocation{
			{ID: "aave", Name: "aave", CurrentBps: 3000, MaxBps: 5000},
		},
	}

	a, err := c.Analyze(context.Background(), snap, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), a.CompositeScore)
}

func TestAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	_, err := c.Analyze(context.Background(), domain.AllocationSnapshot{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
