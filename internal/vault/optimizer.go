// Package vault contains the pure decision logic of the control loop: the
// allocation optimizer, the rebalance proposer, and the cooldown gate. None
// of these touch I/O; they are total functions over validated snapshots.
package vault

import (
	"math"

	"github.com/ayush101098/nexxore/internal/domain"
)

// DefaultIdleBufferBps is the fraction of TVL deliberately left unallocated
// to absorb withdrawals without forced strategy exits.
const DefaultIdleBufferBps int64 = 500

// Optimize computes the target allocation in basis points per strategy ID.
//
// Each strategy is weighted by currentAPY x (1 - utilization), capped at its
// MaxBps. Weights are normalized so targets sum to 10000 - idleBufferBps;
// when every weight is zero the available budget is split equally. Targets
// never exceed a strategy's cap: any excess from capping is redistributed
// across the remaining uncapped strategies, and if every strategy is capped
// the excess stays idle.
func Optimize(allocs []domain.StrategyAllocation, idleBufferBps int64) map[string]int64 {
	targets := make(map[string]int64, len(allocs))
	if len(allocs) == 0 {
		return targets
	}

	available := domain.BasisPoints - idleBufferBps
	if available < 0 {
		available = 0
	}

	weights := make(map[string]float64, len(allocs))
	var totalWeight float64
	for _, a := range allocs {
		w := a.CurrentAPY * (1 - a.Utilization)
		if maxWeight := float64(a.MaxBps) / domain.BasisPoints; w > maxWeight {
			w = maxWeight
		}
		if w < 0 {
			w = 0
		}
		weights[a.ID] = w
		totalWeight += w
	}

	// Fractional shares of the available budget.
	shares := make(map[string]float64, len(allocs))
	for _, a := range allocs {
		if totalWeight > 0 {
			shares[a.ID] = weights[a.ID] / totalWeight
		} else {
			shares[a.ID] = 1 / float64(len(allocs))
		}
	}

	// Proportional assignment with cap enforcement. Excess freed by capping
	// is redistributed over the uncapped remainder until stable.
	capped := make(map[string]bool, len(allocs))
	remaining := float64(available)
	for range allocs {
		var uncappedShare float64
		for _, a := range allocs {
			if !capped[a.ID] {
				uncappedShare += shares[a.ID]
			}
		}
		if uncappedShare == 0 || remaining <= 0 {
			break
		}

		overflowed := false
		for _, a := range allocs {
			if capped[a.ID] {
				continue
			}
			t := remaining * shares[a.ID] / uncappedShare
			if t >= float64(a.MaxBps) {
				targets[a.ID] = a.MaxBps
				capped[a.ID] = true
				overflowed = true
			}
		}
		if !overflowed {
			// Final pass: assign rounded targets to the uncapped set.
			for _, a := range allocs {
				if capped[a.ID] {
					continue
				}
				targets[a.ID] = int64(math.Round(remaining * shares[a.ID] / uncappedShare))
			}
			break
		}
		// Recompute the budget left for uncapped strategies.
		remaining = float64(available)
		for _, a := range allocs {
			if capped[a.ID] {
				remaining -= float64(a.MaxBps)
			}
		}
	}

	// Ensure every strategy has an entry, even when it received nothing.
	for _, a := range allocs {
		if _, ok := targets[a.ID]; !ok {
			targets[a.ID] = 0
		}
	}
	return targets
}
