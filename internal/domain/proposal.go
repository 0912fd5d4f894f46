package domain

import "time"

// ProposalStatus is the lifecycle state of a rebalance proposal. The
// orchestrator exclusively owns these transitions.
type ProposalStatus string

const (
	ProposalProposed        ProposalStatus = "proposed"
	ProposalSubmitted       ProposalStatus = "submitted"
	ProposalPendingApproval ProposalStatus = "pending_approval"
	ProposalExecuted        ProposalStatus = "executed"
	ProposalRejected        ProposalStatus = "rejected"
	ProposalFailed          ProposalStatus = "failed"
)

// RebalanceProposal is a single bounded reallocation from one strategy to
// another. At most one is produced per cycle; the blast radius of any one
// decision is limited to a single strategy pair.
type RebalanceProposal struct {
	ID                 string  // internal UUID
	FromStrategyID     string
	ToStrategyID       string
	Amount             float64 // USD
	PercentOfTVL       float64 // 0..100, reporting
	ExpectedAPYGainBps float64 // reporting only, never gates the decision
	Reason             string
	Status             ProposalStatus
	OnchainProposalID  *int64 // assigned on successful submission
	TxHash             string
	CreatedAt          time.Time
	ExecutedAt         *time.Time
}

// CycleAction labels the outcome of one control cycle for metrics and audit.
type CycleAction string

const (
	ActionNone            CycleAction = "none"
	ActionSkippedRisk     CycleAction = "skipped_risk"
	ActionSkippedCooldown CycleAction = "skipped_cooldown"
	ActionExecuted        CycleAction = "executed"
	ActionPendingApproval CycleAction = "pending_approval"
	ActionProposalFailed  CycleAction = "proposal_failed"
	ActionExecutionFailed CycleAction = "execution_failed"
	ActionEmergencyUnwind CycleAction = "emergency_unwind"
	ActionError           CycleAction = "error"
)

// CycleResult is the ephemeral record of one loop iteration. It drives
// status reporting and notifications and is not persisted as an entity.
type CycleResult struct {
	Assessment Assessment
	Proposal   *RebalanceProposal
	Action     CycleAction
	Duration   time.Duration
	FinishedAt time.Time
}

// UnwindOutcome records one strategy's result within an emergency unwind
// batch. Failures are isolated per strategy and recorded individually.
type UnwindOutcome struct {
	StrategyID string
	Success    bool
	TxHash     string
	Err        string
	FinishedAt time.Time
}
