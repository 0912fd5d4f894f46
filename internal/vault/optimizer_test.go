package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/domain"
)

func strat(id string, currentBps, maxBps int64, apy, util float64) domain.StrategyAllocation {
	return domain.StrategyAllocation{
		ID:          id,
		Name:        id,
		CurrentBps:  currentBps,
		MaxBps:      maxBps,
		CurrentAPY:  apy,
		Utilization: util,
	}
}

func TestOptimizeEmptyInput(t *testing.T) {
	targets := Optimize(nil, DefaultIdleBufferBps)
	assert.Empty(t, targets)
}

func TestOptimizeConservation(t *testing.T) {
	allocs := []domain.StrategyAllocation{
		strat("aave", 3000, 5000, 0.045, 0.80),
		strat("compound", 3000, 4000, 0.038, 0.60),
		strat("maker", 3500, 6000, 0.052, 0.40),
	}

	targets := Optimize(allocs, 500)
	require.Len(t, targets, 3)

	var sum int64
	for _, a := range allocs {
		tgt := targets[a.ID]
		assert.LessOrEqual(t, tgt, a.MaxBps, "target for %s exceeds cap", a.ID)
		assert.GreaterOrEqual(t, tgt, int64(0))
		sum += tgt
	}
	// Sum equals the available budget within rounding.
	assert.InDelta(t, 9500, sum, float64(len(allocs)))
}

func TestOptimizeZeroWeightsSplitEqually(t *testing.T) {
	// Fully utilized strategies have zero weight; the budget splits equally.
	allocs := []domain.StrategyAllocation{
		strat("a", 0, 9000, 0.05, 1.0),
		strat("b", 0, 9000, 0.03, 1.0),
	}

	targets := Optimize(allocs, 500)
	assert.Equal(t, targets["a"], targets["b"])
	assert.InDelta(t, 9500, targets["a"]+targets["b"], 2)
}

func TestOptimizeRespectsCapWithRedistribution(t *testing.T) {
	// The high-APY strategy would take nearly everything but is capped at
	// 2000 bps; the excess must flow to the other strategy.
	allocs := []domain.StrategyAllocation{
		strat("hot", 1000, 2000, 0.90, 0.0),
		strat("cold", 1000, 9000, 0.01, 0.0),
	}

	targets := Optimize(allocs, 500)
	assert.Equal(t, int64(2000), targets["hot"])
	assert.InDelta(t, 7500, targets["cold"], 2)
}

func TestOptimizeAllCappedLeavesExcessIdle(t *testing.T) {
	allocs := []domain.StrategyAllocation{
		strat("a", 1000, 3000, 0.06, 0.2),
		strat("b", 1000, 3000, 0.05, 0.3),
	}

	targets := Optimize(allocs, 500)
	assert.Equal(t, int64(3000), targets["a"])
	assert.Equal(t, int64(3000), targets["b"])
}
