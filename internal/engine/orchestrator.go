// Package engine implements the vault control loop: a periodic cycle that
// reads allocation state, obtains a risk assessment, and either proposes a
// bounded rebalance, unwinds at-risk strategies, or stands down.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayush101098/nexxore/internal/domain"
	"github.com/ayush101098/nexxore/internal/vault"
)

// cycleLockKey is the distributed lock guarding the cooldown window across
// replicas.
const cycleLockKey = "vault-control-cycle"

// Notifier is the slice of the notification system the engine uses.
// Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config tunes the control loop.
type Config struct {
	CycleInterval         time.Duration // monitoring cadence
	CooldownWindow        time.Duration // min spacing between rebalances
	AssessRetries         int           // attempts against the assessor
	AssessRetryBase       time.Duration // first backoff delay, doubles per attempt
	IdleBufferBps         int64
	MaxSingleRebalanceBps int64
	MinDeviationBps       int64
	LockTTL               time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CycleInterval:         5 * time.Minute,
		CooldownWindow:        vault.DefaultCooldownWindow,
		AssessRetries:         3,
		AssessRetryBase:       time.Second,
		IdleBufferBps:         vault.DefaultIdleBufferBps,
		MaxSingleRebalanceBps: vault.DefaultProposerConfig().MaxSingleRebalanceBps,
		MinDeviationBps:       vault.DefaultProposerConfig().MinDeviationBps,
		LockTTL:               10 * time.Minute,
	}
}

// Orchestrator owns the control cycle. All mutable state lives behind mu;
// everything the cycle reads from collaborators is snapshot-scoped.
type Orchestrator struct {
	cfg       Config
	ledger    domain.AllocationLedger
	assessor  domain.RiskAssessor
	publisher domain.RiskPublisher
	analyses  domain.AnalysisStore
	proposals domain.ProposalStore
	unwinds   domain.UnwindStore
	locks     domain.LockManager
	oracle    domain.RiskOracle
	notifier  Notifier
	logger    *slog.Logger

	// sleep and now are swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	triggerCh chan struct{}

	mu         sync.Mutex
	state      cycleState
	inFlight   bool
	cycleCount int64
	lastResult *domain.CycleResult
	// lastAssessment is only replaced by cycles that reached ASSESS, so an
	// aborted fetch never blanks the reported risk state.
	lastAssessment *domain.Assessment
	lastError      string
	startedAt      time.Time
	nextCycle      time.Time

	actionCounts   map[domain.CycleAction]int64
	rebalanceCount int64
	unwindCount    int64
	lastTVL        float64

	// signalBuf accumulates context signals between cycles; each cycle
	// drains it into the assessor request.
	signalBuf []domain.ContextSignal
}

// New creates an Orchestrator. notifier may be nil when notifications are
// not configured.
func New(
	cfg Config,
	ledger domain.AllocationLedger,
	assessor domain.RiskAssessor,
	publisher domain.RiskPublisher,
	analyses domain.AnalysisStore,
	proposals domain.ProposalStore,
	unwinds domain.UnwindStore,
	locks domain.LockManager,
	notifier Notifier,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		ledger:    ledger,
		assessor:  assessor,
		publisher: publisher,
		analyses:  analyses,
		proposals: proposals,
		unwinds:   unwinds,
		locks:     locks,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "engine")),
		sleep:     sleepCtx,
		now:       func() time.Time { return time.Now().UTC() },
		triggerCh:    make(chan struct{}, 1),
		state:        stateIdle,
		actionCounts: make(map[domain.CycleAction]int64),
	}
}

// WithRiskOracle wires the on-chain risk oracle and returns the orchestrator
// for chaining. Without one, oracle updates are skipped.
func (o *Orchestrator) WithRiskOracle(oracle domain.RiskOracle) *Orchestrator {
	o.oracle = oracle
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives the monitoring loop until the context is cancelled. One cycle
// runs immediately on start; subsequent cycles run on the ticker or when an
// out-of-band trigger arrives. A cycle always completes its RECORD stage
// before the next one starts.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.startedAt = o.now()
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "control loop starting",
		slog.Duration("cycle_interval", o.cfg.CycleInterval),
		slog.Duration("cooldown_window", o.cfg.CooldownWindow),
	)

	o.runScheduled(ctx)

	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.runScheduled(ctx)
		case <-o.triggerCh:
			o.logger.InfoContext(ctx, "out-of-band cycle triggered")
			o.runScheduled(ctx)
		}
	}
}

// runScheduled runs one cycle from the loop, logging instead of propagating
// errors so a bad cycle never kills the loop.
func (o *Orchestrator) runScheduled(ctx context.Context) {
	o.mu.Lock()
	o.nextCycle = o.now().Add(o.cfg.CycleInterval)
	o.mu.Unlock()

	if _, err := o.RunCycleOnce(ctx); err != nil {
		o.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
	}
}

// TriggerCycle requests an out-of-band cycle. Non-blocking; a trigger while
// one is already queued is folded into it.
func (o *Orchestrator) TriggerCycle() {
	select {
	case o.triggerCh <- struct{}{}:
	default:
	}
}

// TriggerEmergencyAnalysis queues the given signals for the next assessment
// and forces an immediate cycle.
func (o *Orchestrator) TriggerEmergencyAnalysis(signals []domain.ContextSignal) {
	o.AddSignals(signals)
	o.TriggerCycle()
}

// AddSignals buffers context signals for the next cycle's assessment.
func (o *Orchestrator) AddSignals(signals []domain.ContextSignal) {
	if len(signals) == 0 {
		return
	}
	o.mu.Lock()
	o.signalBuf = append(o.signalBuf, signals...)
	o.mu.Unlock()
}

// drainSignals removes and returns the buffered signals.
func (o *Orchestrator) drainSignals() []domain.ContextSignal {
	o.mu.Lock()
	defer o.mu.Unlock()
	signals := o.signalBuf
	o.signalBuf = nil
	return signals
}

// RunCycleOnce runs a single control cycle. It returns ErrCycleInFlight when
// another cycle is already running in this process, and ErrLockHeld when
// another replica holds the distributed lock.
func (o *Orchestrator) RunCycleOnce(ctx context.Context) (domain.CycleResult, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return domain.CycleResult{}, domain.ErrCycleInFlight
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.state = stateIdle
		o.mu.Unlock()
	}()

	unlock, err := o.locks.Acquire(ctx, cycleLockKey, o.cfg.LockTTL)
	if err != nil {
		return domain.CycleResult{}, fmt.Errorf("engine: cycle lock: %w", err)
	}
	defer unlock()

	return o.runCycle(ctx)
}

// Status is a read-only snapshot of loop state. The risk fields always
// reflect the last cycle that completed an assessment, even when the most
// recent cycle aborted before reaching one.
type Status struct {
	Running           bool             `json:"running"`
	State             string           `json:"state"`
	CycleCount        int64            `json:"cycle_count"`
	CyclesByAction    map[string]int64 `json:"cycles_by_action"`
	RebalanceCount    int64            `json:"rebalance_count"`
	UnwindCount       int64            `json:"unwind_count"`
	TVL               float64          `json:"tvl"`
	StartedAt         time.Time        `json:"started_at"`
	NextCycleAt       time.Time        `json:"next_cycle_at"`
	LastCycleAt       *time.Time       `json:"last_cycle_at,omitempty"`
	LastAction        string           `json:"last_action,omitempty"`
	LastCycleDuration string           `json:"last_cycle_duration,omitempty"`
	LastRiskScore     *int64           `json:"last_risk_score,omitempty"`
	LastRiskLevel     string           `json:"last_risk_level,omitempty"`
	LastDegraded      bool             `json:"last_degraded"`
	LastError         string           `json:"last_error,omitempty"`
}

// Status returns the current loop status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	byAction := make(map[string]int64, len(o.actionCounts))
	for action, n := range o.actionCounts {
		byAction[string(action)] = n
	}

	st := Status{
		Running:        o.inFlight,
		State:          string(o.state),
		CycleCount:     o.cycleCount,
		CyclesByAction: byAction,
		RebalanceCount: o.rebalanceCount,
		UnwindCount:    o.unwindCount,
		TVL:            o.lastTVL,
		StartedAt:      o.startedAt,
		NextCycleAt:    o.nextCycle,
		LastError:      o.lastError,
	}
	if o.lastResult != nil {
		finished := o.lastResult.FinishedAt
		st.LastCycleAt = &finished
		st.LastAction = string(o.lastResult.Action)
		st.LastCycleDuration = o.lastResult.Duration.String()
	}
	if o.lastAssessment != nil {
		score := o.lastAssessment.Analysis.CompositeScore
		st.LastRiskScore = &score
		st.LastRiskLevel = string(o.lastAssessment.Analysis.RiskLevel)
		st.LastDegraded = o.lastAssessment.Degraded
	}
	return st
}

// ExecuteApprovedProposal executes a proposal previously parked in
// pending_approval. It is the only path by which such a proposal reaches
// the chain.
func (o *Orchestrator) ExecuteApprovedProposal(ctx context.Context, id string) (domain.RebalanceProposal, error) {
	p, err := o.proposals.GetByID(ctx, id)
	if err != nil {
		return domain.RebalanceProposal{}, err
	}

	switch p.Status {
	case domain.ProposalExecuted:
		return p, domain.ErrAlreadyExecuted
	case domain.ProposalPendingApproval:
		// the only executable state
	default:
		return p, fmt.Errorf("engine: proposal %s in status %s: %w", id, p.Status, domain.ErrNotSubmitted)
	}
	if p.OnchainProposalID == nil {
		return p, fmt.Errorf("engine: proposal %s has no on-chain id: %w", id, domain.ErrNotSubmitted)
	}

	txHash, err := o.ledger.ExecuteRebalance(ctx, *p.OnchainProposalID)
	if err != nil {
		if updErr := o.proposals.UpdateStatus(ctx, id, domain.ProposalFailed, "", nil); updErr != nil {
			o.logger.ErrorContext(ctx, "proposal status update failed",
				slog.String("proposal_id", id), slog.String("error", updErr.Error()))
		}
		return p, fmt.Errorf("engine: execute approved proposal %s: %w", id, err)
	}

	if err := o.proposals.MarkExecuted(ctx, id, txHash); err != nil {
		return p, fmt.Errorf("engine: mark proposal %s executed: %w", id, err)
	}

	o.mu.Lock()
	o.rebalanceCount++
	o.mu.Unlock()

	o.notify(ctx, "rebalance_executed", "Rebalance executed",
		fmt.Sprintf("Approved proposal %s executed in tx %s", id, txHash))

	p.Status = domain.ProposalExecuted
	p.TxHash = txHash
	now := o.now()
	p.ExecutedAt = &now
	return p, nil
}

// notify dispatches a notification when a notifier is configured; delivery
// failures are logged, never propagated.
func (o *Orchestrator) notify(ctx context.Context, event, title, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, message); err != nil {
		o.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
