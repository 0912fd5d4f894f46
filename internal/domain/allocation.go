// Package domain defines the core types and interfaces shared across the
// vault control loop: allocation snapshots, risk analyses, rebalance
// proposals, and the ports through which the loop talks to the ledger, the
// risk assessor, and its persistence layers.
package domain

import (
	"fmt"
	"time"
)

// BasisPoints is the full scale for allocations and risk scores (100%).
const BasisPoints = 10000

// StrategyAllocation is the per-strategy allocation state read from the
// vault ledger. CurrentBps is authoritative (derived on-chain); TargetBps is
// the governance-set target that bounds the optimizer's output.
type StrategyAllocation struct {
	ID             string  // stable strategy identifier (checksummed address string)
	Address        string  // on-chain strategy address
	Name           string  // human-readable name, e.g. "aave-v3-usdc"
	CurrentBps     int64   // current allocation in basis points
	TargetBps      int64   // governance target in basis points
	MaxBps         int64   // hard per-strategy cap in basis points
	TotalDeposited float64 // capital currently deposited, USD
	CurrentAPY     float64 // fractional APY, e.g. 0.052 = 5.2%
	Utilization    float64 // fractional pool utilization, 0..1
}

// Validate checks the on-chain invariant 0 <= current <= max <= 10000. It is
// called once at the ledger boundary; downstream stages trust the value.
func (s StrategyAllocation) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("strategy allocation: empty id")
	}
	if s.CurrentBps < 0 {
		return fmt.Errorf("strategy %s: negative current allocation %d bps", s.ID, s.CurrentBps)
	}
	if s.MaxBps > BasisPoints {
		return fmt.Errorf("strategy %s: max allocation %d bps exceeds %d", s.ID, s.MaxBps, BasisPoints)
	}
	if s.CurrentBps > s.MaxBps {
		return fmt.Errorf("strategy %s: current %d bps exceeds max %d bps", s.ID, s.CurrentBps, s.MaxBps)
	}
	if s.Utilization < 0 || s.Utilization > 1 {
		return fmt.Errorf("strategy %s: utilization %.4f out of [0,1]", s.ID, s.Utilization)
	}
	return nil
}

// AllocationSnapshot is a point-in-time view of the vault's allocation state.
// It is immutable once fetched and scoped to a single control cycle; the
// ledger remains the single source of truth and snapshots are never reused
// across cycles.
type AllocationSnapshot struct {
	TVL               float64 // total value locked, USD
	Allocations       []StrategyAllocation
	IdleBufferBps     int64 // unallocated fraction of TVL, basis points
	LastRebalanceTime time.Time
	FetchedAt         time.Time
}

// Validate checks every strategy allocation and the snapshot-level fields.
func (s AllocationSnapshot) Validate() error {
	if s.TVL < 0 {
		return fmt.Errorf("snapshot: negative tvl %.2f", s.TVL)
	}
	for _, a := range s.Allocations {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	return nil
}

// Strategy returns the allocation with the given ID, or false when absent.
func (s AllocationSnapshot) Strategy(id string) (StrategyAllocation, bool) {
	for _, a := range s.Allocations {
		if a.ID == id {
			return a, true
		}
	}
	return StrategyAllocation{}, false
}
