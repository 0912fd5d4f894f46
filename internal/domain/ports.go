package domain

import (
	"context"
	"time"
)

// AllocationLedger is the read/write port to the on-chain vault. Reads are
// safe to retry; ExecuteRebalance must only be invoked once a proposal ID is
// confirmed submitted.
type AllocationLedger interface {
	// ReadSnapshot fetches the current allocation state. The result is
	// validated before return and is immutable for the calling cycle.
	ReadSnapshot(ctx context.Context) (AllocationSnapshot, error)

	// ProposeRebalance submits a rebalance proposal transaction and returns
	// the on-chain proposal ID together with the transaction hash.
	ProposeRebalance(ctx context.Context, fromStrategy, toStrategy string, amount float64) (proposalID int64, txHash string, err error)

	// ExecuteRebalance executes a previously submitted proposal.
	ExecuteRebalance(ctx context.Context, proposalID int64) (txHash string, err error)

	// EmergencyUnwind forces a full withdrawal from one strategy with a
	// human-readable reason recorded on-chain.
	EmergencyUnwind(ctx context.Context, strategyID, reason string) (txHash string, err error)
}

// RiskAssessor maps a point-in-time snapshot (plus optional context signals)
// to a structured risk analysis. It is stateless and may fail; retry policy
// belongs to the caller.
type RiskAssessor interface {
	Analyze(ctx context.Context, snapshot AllocationSnapshot, signals []ContextSignal) (RiskAnalysis, error)
}

// RiskOracle mirrors each cycle's component risk scores to an on-chain
// oracle contract so other protocol components can read them.
type RiskOracle interface {
	UpdateRiskMetrics(ctx context.Context, a RiskAnalysis) (txHash string, err error)
}

// Submitter sends a raw signed transaction, attempting the confidential path
// first and falling back to public submission. The implementation decides
// what "confidential" means; callers only see the single operation.
type Submitter interface {
	Submit(ctx context.Context, rawTx []byte) (txHash string, err error)
}

// RiskPublisher pushes each cycle's analysis to downstream subscribers
// (dashboards, alerting) and keeps the latest analysis queryable.
type RiskPublisher interface {
	PublishAnalysis(ctx context.Context, a RiskAnalysis) error
	LatestAnalysis(ctx context.Context) (RiskAnalysis, error)
}

// LockManager provides distributed mutual exclusion so that two control-loop
// replicas can never both pass the cooldown gate within one window.
type LockManager interface {
	// Acquire obtains a lock for key with the given TTL, returning an unlock
	// function. It returns ErrLockHeld when another holder owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalSource yields externally-ingested context signals newer than the
// given cursor, together with the new cursor position.
type SignalSource interface {
	ReadSignals(ctx context.Context, cursor string, limit int) ([]ContextSignal, string, error)
}

// RateLimiter throttles callers by key. Allow counts the request when it is
// admitted; Wait blocks until admission or context cancellation.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
