package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AnalysisStore persists risk analyses as an append-only audit trail.
type AnalysisStore interface {
	RecordAnalysis(ctx context.Context, a RiskAnalysis, degraded bool) (int64, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]RiskAnalysis, error)
	ListBefore(ctx context.Context, before time.Time) ([]RiskAnalysis, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ProposalStore persists rebalance proposals and their lifecycle outcomes.
type ProposalStore interface {
	Create(ctx context.Context, p RebalanceProposal) error
	UpdateStatus(ctx context.Context, id string, status ProposalStatus, txHash string, onchainID *int64) error
	MarkExecuted(ctx context.Context, id string, txHash string) error
	GetByID(ctx context.Context, id string) (RebalanceProposal, error)
	GetByOnchainID(ctx context.Context, onchainID int64) (RebalanceProposal, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]RebalanceProposal, error)
	ListBefore(ctx context.Context, before time.Time) ([]RebalanceProposal, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// UnwindStore persists per-strategy emergency unwind outcomes, linked to the
// triggering analysis row.
type UnwindStore interface {
	RecordUnwind(ctx context.Context, analysisRowID int64, outcome UnwindOutcome) error
	ListByAnalysis(ctx context.Context, analysisRowID int64) ([]UnwindOutcome, error)
}

// BlobWriter uploads serialized archives to cold object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// BlobInfo is object metadata from cold storage listings.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader reads back archived objects, primarily to verify an upload
// before the source rows are deleted.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves aged audit rows to cold storage.
type Archiver interface {
	ArchiveAnalyses(ctx context.Context, before time.Time) (int64, error)
	ArchiveProposals(ctx context.Context, before time.Time) (int64, error)
}
