package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/domain"
)

func snapshotWith(tvl float64, allocs ...domain.StrategyAllocation) domain.AllocationSnapshot {
	return domain.AllocationSnapshot{
		TVL:               tvl,
		Allocations:       allocs,
		IdleBufferBps:     500,
		LastRebalanceTime: time.Now().Add(-30 * 24 * time.Hour),
	}
}

func deposited(s domain.StrategyAllocation, usd float64) domain.StrategyAllocation {
	s.TotalDeposited = usd
	return s
}

func TestProposeBoundedByMaxSingleRebalance(t *testing.T) {
	// A is over-allocated by 1500 bps with $4M deposited: the deposit-scaled
	// amount ($600k) is below the TVL cap ($1.5M) and wins.
	snap := snapshotWith(10_000_000,
		deposited(strat("a", 4000, 9000, 0.03, 0.5), 4_000_000),
		deposited(strat("b", 1000, 9000, 0.06, 0.5), 1_000_000),
	)
	targets := map[string]int64{"a": 2500, "b": 2500}

	p := Propose(snap, targets, DefaultProposerConfig())
	require.NotNil(t, p)
	assert.Equal(t, "a", p.FromStrategyID)
	assert.Equal(t, "b", p.ToStrategyID)
	assert.InDelta(t, 600_000, p.Amount, 1)
	assert.InDelta(t, 6.0, p.PercentOfTVL, 0.01)
	assert.Greater(t, p.ExpectedAPYGainBps, 0.0)
}

func TestProposeClampedByReceiverCap(t *testing.T) {
	// The donor could give $1.5M (TVL-capped), but the receiver holds $1M
	// against a 2000 bps cap ($2M), so the amount clamps to $1M.
	snap := snapshotWith(10_000_000,
		deposited(strat("a", 4000, 9000, 0.03, 0.5), 10_000_000),
		deposited(strat("b", 1000, 2000, 0.06, 0.5), 1_000_000),
	)
	targets := map[string]int64{"a": 2500, "b": 2500}

	p := Propose(snap, targets, DefaultProposerConfig())
	require.NotNil(t, p)
	assert.InDelta(t, 1_000_000, p.Amount, 1)
}

func TestProposeNoProposalBelowDeviationThreshold(t *testing.T) {
	// Deviation of exactly 150 bps is below the 200 bps threshold.
	snap := snapshotWith(10_000_000,
		deposited(strat("a", 2650, 9000, 0.03, 0.5), 2_650_000),
		deposited(strat("b", 2350, 9000, 0.06, 0.5), 2_350_000),
	)
	targets := map[string]int64{"a": 2500, "b": 2500}

	assert.Nil(t, Propose(snap, targets, DefaultProposerConfig()))
}

func TestProposeNoProposalWhenReceiverFull(t *testing.T) {
	// The receiver already sits at its cap; the clamp drives the amount to
	// zero, which is a normal no-action outcome.
	snap := snapshotWith(10_000_000,
		deposited(strat("a", 4000, 9000, 0.03, 0.5), 4_000_000),
		deposited(strat("b", 2000, 2000, 0.06, 0.5), 2_000_000),
	)
	targets := map[string]int64{"a": 2500, "b": 2500}

	assert.Nil(t, Propose(snap, targets, DefaultProposerConfig()))
}

func TestProposeNoPairWhenAllUnderAllocated(t *testing.T) {
	snap := snapshotWith(10_000_000,
		deposited(strat("a", 1000, 9000, 0.03, 0.5), 1_000_000),
		deposited(strat("b", 1000, 9000, 0.06, 0.5), 1_000_000),
	)
	targets := map[string]int64{"a": 4000, "b": 4000}

	assert.Nil(t, Propose(snap, targets, DefaultProposerConfig()))
}

func TestProposeSingleStrategyNoProposal(t *testing.T) {
	snap := snapshotWith(10_000_000,
		deposited(strat("a", 4000, 9000, 0.03, 0.5), 4_000_000),
	)
	assert.Nil(t, Propose(snap, map[string]int64{"a": 2500}, DefaultProposerConfig()))
}
