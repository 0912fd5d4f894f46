package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayush101098/nexxore/internal/domain"
	"github.com/ayush101098/nexxore/internal/vault"
)

// degradedScore is the conservative composite (and per-component) score
// synthesized when the assessor is unreachable. HIGH_RISK blocks any new
// reallocation without forcing an unwind.
const degradedScore = 7500

// runCycle executes one FETCH -> ASSESS -> DECIDE -> ACT -> RECORD pass.
func (o *Orchestrator) runCycle(ctx context.Context) (domain.CycleResult, error) {
	started := o.now()
	result := domain.CycleResult{Action: domain.ActionNone}

	// FETCH
	if err := o.advance(stateFetch); err != nil {
		return result, err
	}
	snap, err := o.ledger.ReadSnapshot(ctx)
	if err != nil {
		result.Action = domain.ActionError
		o.finishCycle(ctx, &result, started, err)
		return result, fmt.Errorf("engine: fetch snapshot: %w", err)
	}
	o.logger.InfoContext(ctx, "snapshot fetched",
		slog.Float64("tvl", snap.TVL),
		slog.Int("strategies", len(snap.Allocations)),
	)
	o.mu.Lock()
	o.lastTVL = snap.TVL
	o.mu.Unlock()

	// ASSESS
	if err := o.advance(stateAssess); err != nil {
		return result, err
	}
	assessment := o.assess(ctx, snap)
	result.Assessment = assessment

	analysisRowID := o.recordAnalysis(ctx, assessment)
	o.updateRiskOracle(ctx, assessment.Analysis)
	o.publishAnalysis(ctx, assessment.Analysis)

	if assessment.Degraded {
		o.notify(ctx, "degraded_assessment", "Risk assessment degraded",
			fmt.Sprintf("Assessor unreachable, operating on conservative fallback: %v", assessment.Cause))
	}

	// DECIDE
	if err := o.advance(stateDecide); err != nil {
		return result, err
	}
	analysis := assessment.Analysis

	switch {
	case analysis.RequiresUnwind():
		result.Action = domain.ActionEmergencyUnwind
		outcomes := o.emergencyUnwind(ctx, snap, analysis, analysisRowID)
		o.logger.WarnContext(ctx, "emergency unwind completed",
			slog.Int64("composite_score", analysis.CompositeScore),
			slog.Int("strategies", len(outcomes)),
		)

	case analysis.BlocksRebalance():
		result.Action = domain.ActionSkippedRisk
		o.logger.WarnContext(ctx, "rebalancing blocked by risk level",
			slog.String("risk_level", string(analysis.RiskLevel)),
			slog.Int64("composite_score", analysis.CompositeScore),
		)

	default:
		if ok, reason := vault.CanRebalance(snap.LastRebalanceTime, o.now(), o.cfg.CooldownWindow); !ok {
			result.Action = domain.ActionSkippedCooldown
			o.logger.InfoContext(ctx, "rebalancing gated by cooldown", slog.String("reason", reason))
			break
		}

		targets := vault.Optimize(snap.Allocations, o.cfg.IdleBufferBps)
		proposal := vault.Propose(snap, targets, vault.ProposerConfig{
			MaxSingleRebalanceBps: o.cfg.MaxSingleRebalanceBps,
			MinDeviationBps:       o.cfg.MinDeviationBps,
		})
		if proposal == nil {
			result.Action = domain.ActionNone
			o.logger.InfoContext(ctx, "allocations within tolerance, no proposal")
			break
		}

		// ACT
		if err := o.advance(stateAct); err != nil {
			return result, err
		}
		result.Proposal = proposal
		result.Action = o.act(ctx, proposal, assessment)
	}

	o.finishCycle(ctx, &result, started, nil)
	return result, nil
}

// assess calls the assessor with bounded retries and exponential backoff.
// Total failure synthesizes a conservative analysis instead of failing the
// cycle.
func (o *Orchestrator) assess(ctx context.Context, snap domain.AllocationSnapshot) domain.Assessment {
	signals := o.drainSignals()

	var lastErr error
	for attempt := 0; attempt < o.cfg.AssessRetries; attempt++ {
		analysis, err := o.assessor.Analyze(ctx, snap, signals)
		if err == nil {
			return domain.Assessment{Analysis: analysis}
		}
		lastErr = err
		o.logger.WarnContext(ctx, "risk assessment attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", o.cfg.AssessRetries),
			slog.String("error", err.Error()),
		)

		delay := o.cfg.AssessRetryBase << attempt
		if err := o.sleep(ctx, delay); err != nil {
			break
		}
	}

	o.logger.ErrorContext(ctx, "risk assessment failed, synthesizing conservative fallback",
		slog.String("error", lastErr.Error()),
	)
	return domain.Assessment{
		Analysis: conservativeAnalysis(o.now(), lastErr),
		Degraded: true,
		Cause:    lastErr,
	}
}

// conservativeAnalysis is the degraded-mode fallback: high enough to block
// new reallocation, below the emergency threshold so a dead assessor never
// triggers an unwind by itself.
func conservativeAnalysis(now time.Time, cause error) domain.RiskAnalysis {
	return domain.RiskAnalysis{
		Timestamp:         now,
		CompositeScore:    degradedScore,
		ProtocolRisk:      degradedScore,
		LiquidityRisk:     degradedScore,
		UtilizationRisk:   degradedScore,
		GovernanceRisk:    degradedScore,
		OracleRisk:        degradedScore,
		RiskLevel:         domain.RiskHigh,
		RecommendedAction: "HOLD",
		Urgency:           "HIGH",
		Reasoning:         fmt.Sprintf("risk assessor unavailable: %v", cause),
	}
}

// act submits the proposal and, below the auto-approve threshold, executes
// it in the same cycle. Degraded assessments never auto-execute.
func (o *Orchestrator) act(ctx context.Context, p *domain.RebalanceProposal, assessment domain.Assessment) domain.CycleAction {
	if err := o.proposals.Create(ctx, *p); err != nil {
		o.logger.ErrorContext(ctx, "proposal persistence failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	onchainID, txHash, err := o.ledger.ProposeRebalance(ctx, p.FromStrategyID, p.ToStrategyID, p.Amount)
	if err != nil {
		o.logger.ErrorContext(ctx, "proposal submission failed",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
		o.updateProposal(ctx, p.ID, domain.ProposalFailed, "", nil)
		p.Status = domain.ProposalFailed
		return domain.ActionProposalFailed
	}

	p.OnchainProposalID = &onchainID
	p.TxHash = txHash
	p.Status = domain.ProposalSubmitted
	o.updateProposal(ctx, p.ID, domain.ProposalSubmitted, txHash, &onchainID)

	o.logger.InfoContext(ctx, "rebalance proposal submitted",
		slog.String("proposal_id", p.ID),
		slog.Int64("onchain_id", onchainID),
		slog.String("tx_hash", txHash),
		slog.Float64("amount_usd", p.Amount),
	)

	autoApprove := !assessment.Degraded &&
		assessment.Analysis.CompositeScore < domain.AutoApproveScoreThreshold
	if !autoApprove {
		o.updateProposal(ctx, p.ID, domain.ProposalPendingApproval, "", nil)
		p.Status = domain.ProposalPendingApproval
		o.notify(ctx, "pending_approval", "Rebalance awaiting approval",
			fmt.Sprintf("Proposal %s (%s -> %s, $%.2f) requires approval at risk score %d",
				p.ID, p.FromStrategyID, p.ToStrategyID, p.Amount, assessment.Analysis.CompositeScore))
		return domain.ActionPendingApproval
	}

	execHash, err := o.ledger.ExecuteRebalance(ctx, onchainID)
	if err != nil {
		o.logger.ErrorContext(ctx, "rebalance execution failed",
			slog.String("proposal_id", p.ID),
			slog.Int64("onchain_id", onchainID),
			slog.String("error", err.Error()),
		)
		o.updateProposal(ctx, p.ID, domain.ProposalFailed, "", nil)
		p.Status = domain.ProposalFailed
		return domain.ActionExecutionFailed
	}

	if err := o.proposals.MarkExecuted(ctx, p.ID, execHash); err != nil {
		o.logger.ErrorContext(ctx, "proposal executed but not recorded",
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	p.Status = domain.ProposalExecuted
	p.TxHash = execHash

	o.notify(ctx, "rebalance_executed", "Rebalance executed",
		fmt.Sprintf("Moved $%.2f from %s to %s in tx %s", p.Amount, p.FromStrategyID, p.ToStrategyID, execHash))
	return domain.ActionExecuted
}

// updateProposal is a log-don't-fail wrapper around the proposal store.
func (o *Orchestrator) updateProposal(ctx context.Context, id string, status domain.ProposalStatus, txHash string, onchainID *int64) {
	if err := o.proposals.UpdateStatus(ctx, id, status, txHash, onchainID); err != nil {
		o.logger.ErrorContext(ctx, "proposal status update failed",
			slog.String("proposal_id", id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// recordAnalysis appends the analysis to the audit trail, returning the row
// ID for unwind outcomes to reference. Persistence failure is logged and the
// cycle continues: deciding on live risk matters more than the trail.
func (o *Orchestrator) recordAnalysis(ctx context.Context, assessment domain.Assessment) int64 {
	rowID, err := o.analyses.RecordAnalysis(ctx, assessment.Analysis, assessment.Degraded)
	if err != nil {
		o.logger.ErrorContext(ctx, "analysis persistence failed", slog.String("error", err.Error()))
		return 0
	}
	return rowID
}

// updateRiskOracle pushes the component scores to the on-chain risk oracle
// when one is wired. An oracle failure never fails the cycle.
func (o *Orchestrator) updateRiskOracle(ctx context.Context, a domain.RiskAnalysis) {
	if o.oracle == nil {
		return
	}
	txHash, err := o.oracle.UpdateRiskMetrics(ctx, a)
	if err != nil {
		o.logger.WarnContext(ctx, "risk oracle update failed", slog.String("error", err.Error()))
		return
	}
	o.logger.InfoContext(ctx, "risk oracle updated",
		slog.String("tx_hash", txHash),
		slog.Int64("composite_score", a.CompositeScore),
	)
}

// publishAnalysis pushes the analysis to the risk bus, log-don't-fail.
func (o *Orchestrator) publishAnalysis(ctx context.Context, a domain.RiskAnalysis) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishAnalysis(ctx, a); err != nil {
		o.logger.WarnContext(ctx, "risk publish failed", slog.String("error", err.Error()))
	}
}

// finishCycle runs the RECORD stage bookkeeping.
func (o *Orchestrator) finishCycle(ctx context.Context, result *domain.CycleResult, started time.Time, cycleErr error) {
	if err := o.advance(stateRecord); err != nil {
		o.logger.ErrorContext(ctx, "state machine violation", slog.String("error", err.Error()))
	}

	result.FinishedAt = o.now()
	result.Duration = result.FinishedAt.Sub(started)

	o.mu.Lock()
	o.cycleCount++
	o.actionCounts[result.Action]++
	o.lastResult = result
	// A cycle that aborted before ASSESS carries a zero-valued assessment;
	// keep reporting the previous one.
	if result.Assessment.Analysis.RiskLevel != "" {
		o.lastAssessment = &result.Assessment
	}
	switch result.Action {
	case domain.ActionExecuted:
		o.rebalanceCount++
	case domain.ActionEmergencyUnwind:
		o.unwindCount++
	}
	if cycleErr != nil {
		o.lastError = cycleErr.Error()
	} else {
		o.lastError = ""
	}
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "cycle finished",
		slog.String("action", string(result.Action)),
		slog.Duration("duration", result.Duration),
		slog.Int64("composite_score", result.Assessment.Analysis.CompositeScore),
		slog.Bool("degraded", result.Assessment.Degraded),
	)
}
