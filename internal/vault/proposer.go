package vault

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayush101098/nexxore/internal/domain"
)

// ProposerConfig bounds a single rebalance proposal.
type ProposerConfig struct {
	// MaxSingleRebalanceBps caps one proposal's amount as a fraction of TVL.
	MaxSingleRebalanceBps int64
	// MinDeviationBps is the smallest current-vs-target deviation worth
	// acting on; anything below is churn.
	MinDeviationBps int64
}

// DefaultProposerConfig returns the production bounds: at most 15% of TVL
// per proposal, acting only on deviations of 2% or more.
func DefaultProposerConfig() ProposerConfig {
	return ProposerConfig{
		MaxSingleRebalanceBps: 1500,
		MinDeviationBps:       200,
	}
}

// Propose computes at most one bounded reallocation from the currently most
// over-allocated strategy to the most under-allocated one. A nil result is
// the normal "nothing to do" outcome, not a failure: it covers the cases of
// no over/under pair, deviation below threshold, and amounts that clamp to
// zero against the target's cap.
func Propose(snap domain.AllocationSnapshot, targets map[string]int64, cfg ProposerConfig) *domain.RebalanceProposal {
	if snap.TVL <= 0 || len(snap.Allocations) < 2 {
		return nil
	}

	// The two extremes are chosen independently: largest positive deviation
	// donates, largest negative deviation receives.
	var from, to *domain.StrategyAllocation
	var maxOverBps, maxUnderBps int64
	for i := range snap.Allocations {
		a := &snap.Allocations[i]
		deviation := a.CurrentBps - targets[a.ID]
		if deviation > maxOverBps {
			maxOverBps = deviation
			from = a
		}
		if deviation < maxUnderBps {
			maxUnderBps = deviation
			to = a
		}
	}
	if from == nil || to == nil {
		return nil
	}
	if maxOverBps < cfg.MinDeviationBps {
		return nil
	}

	deviationFrac := float64(maxOverBps) / domain.BasisPoints
	maxAmount := snap.TVL * float64(cfg.MaxSingleRebalanceBps) / domain.BasisPoints
	amount := from.TotalDeposited * deviationFrac
	if amount > maxAmount {
		amount = maxAmount
	}

	// Never push the receiver past its hard cap.
	capUSD := float64(to.MaxBps) / domain.BasisPoints * snap.TVL
	if to.TotalDeposited+amount > capUSD {
		amount = capUSD - to.TotalDeposited
	}
	if amount <= 0 {
		return nil
	}

	// Reporting only; the APY delta never gates the decision.
	apyGainBps := (to.CurrentAPY - from.CurrentAPY) * (amount / snap.TVL) * domain.BasisPoints

	return &domain.RebalanceProposal{
		ID:                 uuid.New().String(),
		FromStrategyID:     from.ID,
		ToStrategyID:       to.ID,
		Amount:             amount,
		PercentOfTVL:       amount / snap.TVL * 100,
		ExpectedAPYGainBps: apyGainBps,
		Reason: fmt.Sprintf("moving %.0f from %s (%.2f%% APY) to %s (%.2f%% APY), deviation %d bps",
			amount, from.Name, from.CurrentAPY*100, to.Name, to.CurrentAPY*100, maxOverBps),
		Status:    domain.ProposalProposed,
		CreatedAt: time.Now().UTC(),
	}
}
