package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/domain"
)

// --- fakes ---

type fakeLedger struct {
	mu       sync.Mutex
	snapshot domain.AllocationSnapshot
	snapErr  error

	proposeID   int64
	proposeErr  error
	executeErr  error
	unwindErrs  map[string]error // strategy -> error
	unwound     []string
	executed    []int64
	readStarted chan struct{} // when set, ReadSnapshot signals then blocks on readRelease
	readRelease chan struct{}
}

func (f *fakeLedger) ReadSnapshot(ctx context.Context) (domain.AllocationSnapshot, error) {
	if f.readStarted != nil {
		f.readStarted <- struct{}{}
		<-f.readRelease
	}
	return f.snapshot, f.snapErr
}

func (f *fakeLedger) ProposeRebalance(ctx context.Context, from, to string, amount float64) (int64, string, error) {
	if f.proposeErr != nil {
		return 0, "", f.proposeErr
	}
	return f.proposeID, "0xproposetx", nil
}

func (f *fakeLedger) ExecuteRebalance(ctx context.Context, proposalID int64) (string, error) {
	if f.executeErr != nil {
		return "", f.executeErr
	}
	f.mu.Lock()
	f.executed = append(f.executed, proposalID)
	f.mu.Unlock()
	return "0xexectx", nil
}

func (f *fakeLedger) EmergencyUnwind(ctx context.Context, strategyID, reason string) (string, error) {
	if err := f.unwindErrs[strategyID]; err != nil {
		return "", err
	}
	f.mu.Lock()
	f.unwound = append(f.unwound, strategyID)
	f.mu.Unlock()
	return "0xunwind-" + strategyID, nil
}

type fakeAssessor struct {
	mu       sync.Mutex
	analysis domain.RiskAnalysis
	errs     []error // per-attempt; nil entry means success
	calls    int
}

func (f *fakeAssessor) Analyze(ctx context.Context, snap domain.AllocationSnapshot, signals []domain.ContextSignal) (domain.RiskAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return domain.RiskAnalysis{}, f.errs[idx]
	}
	return f.analysis, nil
}

type fakeAnalysisStore struct {
	mu       sync.Mutex
	recorded []domain.RiskAnalysis
	degraded []bool
	nextID   int64
}

func (f *fakeAnalysisStore) RecordAnalysis(ctx context.Context, a domain.RiskAnalysis, degraded bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, a)
	f.degraded = append(f.degraded, degraded)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeAnalysisStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.RiskAnalysis, error) {
	return f.recorded, nil
}

func (f *fakeAnalysisStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RiskAnalysis, error) {
	return nil, nil
}

func (f *fakeAnalysisStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeProposalStore struct {
	mu         sync.Mutex
	created    []domain.RebalanceProposal
	statuses   map[string]domain.ProposalStatus
	onchainIDs map[string]int64
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{
		statuses:   make(map[string]domain.ProposalStatus),
		onchainIDs: make(map[string]int64),
	}
}

func (f *fakeProposalStore) Create(ctx context.Context, p domain.RebalanceProposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	f.statuses[p.ID] = p.Status
	return nil
}

func (f *fakeProposalStore) UpdateStatus(ctx context.Context, id string, status domain.ProposalStatus, txHash string, onchainID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	// Mirror the real store's COALESCE: keep the existing on-chain ID when
	// the update passes nil, overwrite when non-nil.
	if onchainID != nil {
		f.onchainIDs[id] = *onchainID
	}
	return nil
}

func (f *fakeProposalStore) MarkExecuted(ctx context.Context, id string, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = domain.ProposalExecuted
	return nil
}

func (f *fakeProposalStore) GetByID(ctx context.Context, id string) (domain.RebalanceProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.created {
		if p.ID == id {
			p.Status = f.statuses[id]
			if onchainID, ok := f.onchainIDs[id]; ok {
				p.OnchainProposalID = &onchainID
			}
			return p, nil
		}
	}
	return domain.RebalanceProposal{}, domain.ErrNotFound
}

func (f *fakeProposalStore) GetByOnchainID(ctx context.Context, onchainID int64) (domain.RebalanceProposal, error) {
	return domain.RebalanceProposal{}, domain.ErrNotFound
}

func (f *fakeProposalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.RebalanceProposal, error) {
	return f.created, nil
}

func (f *fakeProposalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RebalanceProposal, error) {
	return nil, nil
}

func (f *fakeProposalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeUnwindStore struct {
	mu       sync.Mutex
	outcomes []domain.UnwindOutcome
	rowIDs   []int64
}

func (f *fakeUnwindStore) RecordUnwind(ctx context.Context, analysisRowID int64, outcome domain.UnwindOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowIDs = append(f.rowIDs, analysisRowID)
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeUnwindStore) ListByAnalysis(ctx context.Context, analysisRowID int64) ([]domain.UnwindOutcome, error) {
	return f.outcomes, nil
}

type fakeLocks struct{}

func (fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeOracle struct {
	mu      sync.Mutex
	updates []domain.RiskAnalysis
	err     error
}

func (f *fakeOracle) UpdateRiskMetrics(ctx context.Context, a domain.RiskAnalysis) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, a)
	return "0xoracletx", nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []domain.RiskAnalysis
}

func (f *fakePublisher) PublishAnalysis(ctx context.Context, a domain.RiskAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, a)
	return nil
}

func (f *fakePublisher) LatestAnalysis(ctx context.Context) (domain.RiskAnalysis, error) {
	return domain.RiskAnalysis{}, domain.ErrNotFound
}

// --- helpers ---

func testSnapshot() domain.AllocationSnapshot {
	return domain.AllocationSnapshot{
		TVL: 10_000_000,
		Allocations: []domain.StrategyAllocation{
			{ID: "strat-a", Name: "aave", CurrentBps: 4000, MaxBps: 6000, TotalDeposited: 4_000_000, CurrentAPY: 0.03, Utilization: 0.5},
			{ID: "strat-b", Name: "compound", CurrentBps: 3000, MaxBps: 6000, TotalDeposited: 3_000_000, CurrentAPY: 0.08, Utilization: 0.4},
			{ID: "strat-c", Name: "morpho", CurrentBps: 2500, MaxBps: 6000, TotalDeposited: 2_500_000, CurrentAPY: 0.05, Utilization: 0.6},
		},
		IdleBufferBps:     500,
		LastRebalanceTime: time.Now().UTC().Add(-30 * 24 * time.Hour),
		FetchedAt:         time.Now().UTC(),
	}
}

func normalAnalysis(score int64) domain.RiskAnalysis {
	level := domain.RiskNormal
	switch {
	case score >= 8000:
		level = domain.RiskCritical
	case score >= 7000:
		level = domain.RiskHigh
	case score >= 6000:
		level = domain.RiskElevated
	}
	return domain.RiskAnalysis{
		Timestamp:      time.Now().UTC(),
		CompositeScore: score,
		RiskLevel:      level,
	}
}

type fixture struct {
	orch      *Orchestrator
	ledger    *fakeLedger
	assessor  *fakeAssessor
	analyses  *fakeAnalysisStore
	proposals *fakeProposalStore
	unwinds   *fakeUnwindStore
	publisher *fakePublisher
	sleeps    *[]time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledger := &fakeLedger{snapshot: testSnapshot(), proposeID: 7}
	assessor := &fakeAssessor{analysis: normalAnalysis(3000)}
	analyses := &fakeAnalysisStore{}
	proposals := newFakeProposalStore()
	unwinds := &fakeUnwindStore{}
	publisher := &fakePublisher{}

	orch := New(DefaultConfig(), ledger, assessor, publisher, analyses, proposals, unwinds, fakeLocks{}, nil,
		slog.New(slog.DiscardHandler))

	var sleeps []time.Duration
	orch.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	return &fixture{
		orch: orch, ledger: ledger, assessor: assessor,
		analyses: analyses, proposals: proposals, unwinds: unwinds,
		publisher: publisher, sleeps: &sleeps,
	}
}

// --- tests ---

func TestCycleExecutesLowRiskProposal(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ActionExecuted, result.Action)
	require.NotNil(t, result.Proposal)
	assert.Equal(t, domain.ProposalExecuted, result.Proposal.Status)
	assert.Equal(t, []int64{7}, fx.ledger.executed)
	assert.Len(t, fx.analyses.recorded, 1)
	assert.Len(t, fx.publisher.published, 1)
}

func TestCyclePendingApprovalAboveThreshold(t *testing.T) {
	fx := newFixture(t)
	fx.assessor.analysis = normalAnalysis(5500) // NORMAL band boundary is below, ELEVATED not reached
	fx.assessor.analysis.RiskLevel = domain.RiskNormal

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ActionPendingApproval, result.Action)
	require.NotNil(t, result.Proposal)
	assert.Equal(t, domain.ProposalPendingApproval, result.Proposal.Status)
	assert.Empty(t, fx.ledger.executed, "proposal must not auto-execute at score >= 5000")
}

func TestAssessRetryThenDegrade(t *testing.T) {
	fx := newFixture(t)
	boom := errors.New("assessor down")
	fx.assessor.errs = []error{boom, boom, boom}

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, fx.assessor.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *fx.sleeps)

	assert.True(t, result.Assessment.Degraded)
	assert.ErrorIs(t, result.Assessment.Cause, boom)
	assert.Equal(t, int64(7500), result.Assessment.Analysis.CompositeScore)
	assert.Equal(t, domain.RiskHigh, result.Assessment.Analysis.RiskLevel)

	// Degraded HIGH_RISK blocks rebalancing but never unwinds.
	assert.Equal(t, domain.ActionSkippedRisk, result.Action)
	assert.Empty(t, fx.ledger.unwound)

	require.Len(t, fx.analyses.degraded, 1)
	assert.True(t, fx.analyses.degraded[0])
}

func TestAssessRecoversOnSecondAttempt(t *testing.T) {
	fx := newFixture(t)
	fx.assessor.errs = []error{errors.New("transient"), nil}

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fx.assessor.calls)
	assert.Equal(t, []time.Duration{time.Second}, *fx.sleeps)
	assert.False(t, result.Assessment.Degraded)
	assert.Equal(t, domain.ActionExecuted, result.Action)
}

func TestEmergencyTriggerMatrix(t *testing.T) {
	tests := []struct {
		name         string
		score        int64
		shouldUnwind bool
		wantUnwind   bool
	}{
		{"score at threshold", 8000, false, true},
		{"flag below threshold", 7999, true, true},
		{"neither", 7999, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			a := normalAnalysis(tt.score)
			a.ShouldUnwind = tt.shouldUnwind
			if tt.shouldUnwind {
				a.UnwindStrategyIDs = []string{"strat-a", "strat-b", "strat-c"}
			}
			fx.assessor.analysis = a

			result, err := fx.orch.RunCycleOnce(context.Background())
			require.NoError(t, err)

			if tt.wantUnwind {
				assert.Equal(t, domain.ActionEmergencyUnwind, result.Action)
				assert.Len(t, fx.ledger.unwound, 3)
			} else {
				assert.NotEqual(t, domain.ActionEmergencyUnwind, result.Action)
				assert.Empty(t, fx.ledger.unwound)
			}
		})
	}
}

func TestUnwindPartialFailureIsolation(t *testing.T) {
	fx := newFixture(t)
	fx.assessor.analysis = normalAnalysis(9000)
	fx.ledger.unwindErrs = map[string]error{"strat-b": errors.New("withdraw reverted")}

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionEmergencyUnwind, result.Action)

	// The failure of strat-b must not stop strat-a or strat-c.
	assert.ElementsMatch(t, []string{"strat-a", "strat-c"}, fx.ledger.unwound)

	require.Len(t, fx.unwinds.outcomes, 3)
	byStrategy := map[string]domain.UnwindOutcome{}
	for _, o := range fx.unwinds.outcomes {
		byStrategy[o.StrategyID] = o
	}
	assert.True(t, byStrategy["strat-a"].Success)
	assert.False(t, byStrategy["strat-b"].Success)
	assert.Contains(t, byStrategy["strat-b"].Err, "withdraw reverted")
	assert.True(t, byStrategy["strat-c"].Success)

	// All outcomes recorded against the triggering analysis row.
	for _, rowID := range fx.unwinds.rowIDs {
		assert.Equal(t, int64(1), rowID)
	}
}

func TestCooldownSkipsProposal(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.snapshot.LastRebalanceTime = time.Now().UTC().Add(-time.Hour)

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ActionSkippedCooldown, result.Action)
	assert.Nil(t, result.Proposal)
	assert.Empty(t, fx.proposals.created)
}

func TestConcurrentCycleRejected(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.readStarted = make(chan struct{}, 1)
	fx.ledger.readRelease = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := fx.orch.RunCycleOnce(context.Background())
		assert.NoError(t, err)
	}()

	// Wait until the first cycle is inside FETCH, then try a second.
	<-fx.ledger.readStarted
	_, err := fx.orch.RunCycleOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrCycleInFlight)

	close(fx.ledger.readRelease)
	<-done

	// Only one cycle ran.
	assert.Len(t, fx.analyses.recorded, 1)
}

func TestProposalFailureTagged(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.proposeErr = errors.New("gas estimation failed")

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ActionProposalFailed, result.Action)
	require.NotNil(t, result.Proposal)
	assert.Equal(t, domain.ProposalFailed, fx.proposals.statuses[result.Proposal.ID])
}

func TestExecutionFailureTagged(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.executeErr = errors.New("execution reverted")

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ActionExecutionFailed, result.Action)
}

func TestFetchFailureIsCycleFatal(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.snapErr = errors.New("rpc timeout")

	_, err := fx.orch.RunCycleOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch snapshot")

	// No side effects: nothing assessed, proposed, or unwound.
	assert.Zero(t, fx.assessor.calls)
	assert.Empty(t, fx.proposals.created)
	assert.Empty(t, fx.ledger.unwound)
}

func TestExecuteApprovedProposal(t *testing.T) {
	fx := newFixture(t)
	fx.assessor.analysis = normalAnalysis(5500)
	fx.assessor.analysis.RiskLevel = domain.RiskNormal

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ActionPendingApproval, result.Action)

	p, err := fx.orch.ExecuteApprovedProposal(context.Background(), result.Proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalExecuted, p.Status)
	assert.Equal(t, []int64{7}, fx.ledger.executed)

	// A second execute attempt is rejected.
	_, err = fx.orch.ExecuteApprovedProposal(context.Background(), result.Proposal.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
}

func TestExecuteUnknownProposal(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orch.ExecuteApprovedProposal(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatusReflectsLastCycle(t *testing.T) {
	fx := newFixture(t)

	st := fx.orch.Status()
	assert.Equal(t, int64(0), st.CycleCount)
	assert.Nil(t, st.LastCycleAt)

	_, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	st = fx.orch.Status()
	assert.Equal(t, int64(1), st.CycleCount)
	require.NotNil(t, st.LastCycleAt)
	assert.Equal(t, string(domain.ActionExecuted), st.LastAction)
	require.NotNil(t, st.LastRiskScore)
	assert.Equal(t, int64(3000), *st.LastRiskScore)
	assert.Equal(t, string(stateIdle), st.State)
}

func TestStatusKeepsRiskAfterFetchFailure(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	fx.ledger.snapErr = errors.New("rpc timeout")
	_, err = fx.orch.RunCycleOnce(context.Background())
	require.Error(t, err)

	// The aborted cycle is visible in the error and action fields but must
	// not blank the risk state from the last assessed cycle.
	st := fx.orch.Status()
	assert.Equal(t, int64(2), st.CycleCount)
	assert.Equal(t, string(domain.ActionError), st.LastAction)
	assert.Contains(t, st.LastError, "rpc timeout")
	require.NotNil(t, st.LastRiskScore)
	assert.Equal(t, int64(3000), *st.LastRiskScore)
	assert.Equal(t, string(domain.RiskNormal), st.LastRiskLevel)

	// A later assessed cycle supersedes the risk fields again.
	fx.ledger.snapErr = nil
	fx.assessor.analysis = normalAnalysis(6500)
	_, err = fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	st = fx.orch.Status()
	require.NotNil(t, st.LastRiskScore)
	assert.Equal(t, int64(6500), *st.LastRiskScore)
	assert.Equal(t, string(domain.RiskElevated), st.LastRiskLevel)
	assert.Empty(t, st.LastError)
}

func TestStatusCountsActionsAndRebalances(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	fx.assessor.analysis = normalAnalysis(9000)
	_, err = fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	st := fx.orch.Status()
	assert.Equal(t, int64(2), st.CycleCount)
	assert.Equal(t, int64(1), st.CyclesByAction[string(domain.ActionExecuted)])
	assert.Equal(t, int64(1), st.CyclesByAction[string(domain.ActionEmergencyUnwind)])
	assert.Equal(t, int64(1), st.RebalanceCount)
	assert.Equal(t, int64(1), st.UnwindCount)
	assert.Equal(t, float64(10_000_000), st.TVL)
	assert.NotEmpty(t, st.LastCycleDuration)
}

func TestRiskOracleUpdatedEachCycle(t *testing.T) {
	fx := newFixture(t)
	oracle := &fakeOracle{}
	fx.orch.WithRiskOracle(oracle)

	_, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, oracle.updates, 1)
	assert.Equal(t, int64(3000), oracle.updates[0].CompositeScore)
}

func TestRiskOracleFailureDoesNotFailCycle(t *testing.T) {
	fx := newFixture(t)
	oracle := &fakeOracle{err: errors.New("oracle reverted")}
	fx.orch.WithRiskOracle(oracle)

	result, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExecuted, result.Action)
}

func TestSignalsForwardedToAssessor(t *testing.T) {
	fx := newFixture(t)

	var seen []domain.ContextSignal
	orig := fx.assessor
	fx.orch.assessor = assessorFunc(func(ctx context.Context, snap domain.AllocationSnapshot, signals []domain.ContextSignal) (domain.RiskAnalysis, error) {
		seen = signals
		return orig.Analyze(ctx, snap, signals)
	})

	fx.orch.AddSignals([]domain.ContextSignal{{ID: "sig-1", Severity: domain.SeverityCritical, Title: "exploit disclosed"}})

	_, err := fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "sig-1", seen[0].ID)

	// Buffer drained: next cycle sees none.
	_, err = fx.orch.RunCycleOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, seen)
}

type assessorFunc func(ctx context.Context, snap domain.AllocationSnapshot, signals []domain.ContextSignal) (domain.RiskAnalysis, error)

func (f assessorFunc) Analyze(ctx context.Context, snap domain.AllocationSnapshot, signals []domain.ContextSignal) (domain.RiskAnalysis, error) {
	return f(ctx, snap, signals)
}
