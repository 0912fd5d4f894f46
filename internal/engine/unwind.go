package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ayush101098/nexxore/internal/domain"
)

// emergencyUnwind withdraws capital from at-risk strategies. Each strategy
// is unwound independently: one failed withdrawal never aborts the rest of
// the batch, and every outcome is recorded against the triggering analysis.
func (o *Orchestrator) emergencyUnwind(ctx context.Context, snap domain.AllocationSnapshot, analysis domain.RiskAnalysis, analysisRowID int64) []domain.UnwindOutcome {
	targets := o.unwindTargets(snap, analysis)
	if len(targets) == 0 {
		o.logger.WarnContext(ctx, "emergency unwind triggered but no strategies hold capital")
		return nil
	}

	reason := analysis.Reasoning
	if reason == "" {
		reason = fmt.Sprintf("composite risk score %d", analysis.CompositeScore)
	}

	o.notify(ctx, "emergency_unwind", "EMERGENCY UNWIND",
		fmt.Sprintf("Unwinding %d strategies at risk score %d: %s", len(targets), analysis.CompositeScore, reason))

	outcomes := make([]domain.UnwindOutcome, 0, len(targets))
	for _, strategyID := range targets {
		outcome := domain.UnwindOutcome{StrategyID: strategyID}

		txHash, err := o.ledger.EmergencyUnwind(ctx, strategyID, reason)
		if err != nil {
			outcome.Err = err.Error()
			o.logger.ErrorContext(ctx, "strategy unwind failed",
				slog.String("strategy", strategyID),
				slog.String("error", err.Error()),
			)
			o.notify(ctx, "emergency_unwind", "Strategy unwind FAILED",
				fmt.Sprintf("Strategy %s could not be unwound: %v", strategyID, err))
		} else {
			outcome.Success = true
			outcome.TxHash = txHash
			o.logger.WarnContext(ctx, "strategy unwound",
				slog.String("strategy", strategyID),
				slog.String("tx_hash", txHash),
			)
		}
		outcome.FinishedAt = o.now()

		if err := o.unwinds.RecordUnwind(ctx, analysisRowID, outcome); err != nil {
			o.logger.ErrorContext(ctx, "unwind outcome persistence failed",
				slog.String("strategy", strategyID),
				slog.String("error", err.Error()),
			)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// unwindTargets resolves which strategies to unwind: the analysis's explicit
// list when present, otherwise every strategy still holding capital.
func (o *Orchestrator) unwindTargets(snap domain.AllocationSnapshot, analysis domain.RiskAnalysis) []string {
	if len(analysis.UnwindStrategyIDs) > 0 {
		targets := make([]string, 0, len(analysis.UnwindStrategyIDs))
		for _, id := range analysis.UnwindStrategyIDs {
			if _, ok := snap.Strategy(id); ok {
				targets = append(targets, id)
			} else {
				o.logger.Warn("unwind target not in snapshot, skipping", slog.String("strategy", id))
			}
		}
		return targets
	}

	var targets []string
	for _, a := range snap.Allocations {
		if a.TotalDeposited > 0 {
			targets = append(targets, a.ID)
		}
	}
	return targets
}
