package domain

import (
	"fmt"
	"time"
)

// RiskLevel classifies a composite risk score.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "NORMAL"    // 0-5999: operate normally
	RiskElevated RiskLevel = "ELEVATED"  // 6000-6999: increase monitoring
	RiskHigh     RiskLevel = "HIGH_RISK" // 7000-7999: no new reallocation risk
	RiskCritical RiskLevel = "CRITICAL"  // 8000+: emergency unwind territory
)

// validRiskLevels is the closed set accepted from the assessor.
var validRiskLevels = map[RiskLevel]bool{
	RiskNormal:   true,
	RiskElevated: true,
	RiskHigh:     true,
	RiskCritical: true,
}

// EmergencyScoreThreshold is the composite score at or above which the loop
// branches to emergency unwind regardless of the assessor's unwind flag.
const EmergencyScoreThreshold = 10000 * 8 / 10 // 8000

// AutoApproveScoreThreshold is the composite score below which a submitted
// rebalance proposal is executed immediately without a separate approval.
const AutoApproveScoreThreshold = 5000

// RiskAnalysis is the structured result of one risk assessment. It is
// produced once per cycle and never mutated, only superseded.
type RiskAnalysis struct {
	Timestamp         time.Time
	CompositeScore    int64 // 0..10000 basis points
	ProtocolRisk      int64
	LiquidityRisk     int64
	UtilizationRisk   int64
	GovernanceRisk    int64
	OracleRisk        int64
	RiskLevel         RiskLevel
	RecommendedAction string
	Urgency           string // LOW, MEDIUM, HIGH, CRITICAL
	Reasoning         string
	StrategyRisks     map[string]int64 // strategy ID -> score
	Alerts            []string
	ShouldUnwind      bool
	UnwindStrategyIDs []string
}

// Validate rejects malformed assessor responses at the boundary so that
// loosely-typed payloads never propagate into the decision stages.
func (a RiskAnalysis) Validate() error {
	scores := map[string]int64{
		"composite":   a.CompositeScore,
		"protocol":    a.ProtocolRisk,
		"liquidity":   a.LiquidityRisk,
		"utilization": a.UtilizationRisk,
		"governance":  a.GovernanceRisk,
		"oracle":      a.OracleRisk,
	}
	for name, v := range scores {
		if v < 0 || v > BasisPoints {
			return fmt.Errorf("risk analysis: %s score %d out of [0,%d]", name, v, BasisPoints)
		}
	}
	if !validRiskLevels[a.RiskLevel] {
		return fmt.Errorf("risk analysis: unknown risk level %q", a.RiskLevel)
	}
	if a.ShouldUnwind && len(a.UnwindStrategyIDs) == 0 {
		return fmt.Errorf("risk analysis: unwind flagged but no strategies named")
	}
	return nil
}

// RequiresUnwind reports whether this analysis should trigger the emergency
// unwind branch: score at or above the critical threshold, or the assessor
// explicitly flagged unwind.
func (a RiskAnalysis) RequiresUnwind() bool {
	return a.CompositeScore >= EmergencyScoreThreshold || a.ShouldUnwind
}

// BlocksRebalance reports whether risk is too elevated to take on
// reallocation risk this cycle.
func (a RiskAnalysis) BlocksRebalance() bool {
	return a.RiskLevel == RiskHigh || a.RiskLevel == RiskCritical
}

// Assessment is the outcome of the ASSESS stage. Degraded distinguishes a
// synthesized conservative fallback from a genuine assessor response, so
// callers never have to rely on sentinel score values.
type Assessment struct {
	Analysis RiskAnalysis
	Degraded bool
	Cause    error // non-nil only when Degraded
}

// ContextSignal is an externally-ingested signal (exploit disclosures,
// governance alerts, market stress) forwarded to the assessor as additional
// context and, at critical severity, used to force an out-of-band cycle.
type ContextSignal struct {
	ID        string
	Source    string
	Severity  SignalSeverity
	Title     string
	Detail    string
	CreatedAt time.Time
}

// SignalSeverity ranks an external context signal.
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "INFO"
	SeverityWarning  SignalSeverity = "WARNING"
	SeverityCritical SignalSeverity = "CRITICAL"
)
