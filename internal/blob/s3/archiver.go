package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayush101098/nexxore/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the time-ranged query and prune methods it
// actually calls, not the full domain store interfaces. The Postgres stores
// satisfy these implicitly.
// ---------------------------------------------------------------------------

// AnalysisArchiveStore provides read and prune access to risk analyses for
// archival purposes.
type AnalysisArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.RiskAnalysis, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ProposalArchiveStore provides read and prune access to rebalance proposals
// for archival purposes.
type ProposalArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.RebalanceProposal, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

// Archiver implements domain.Archiver by querying the stores for records
// older than a cutoff, serializing them to JSONL, and uploading the result
// to S3. The source rows are deleted only after the uploaded object has been
// verified to exist, so a failed or partial upload never loses data.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	analyses  AnalysisArchiveStore
	proposals ProposalArchiveStore
	logger    *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	analyses AnalysisArchiveStore,
	proposals ProposalArchiveStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		analyses:  analyses,
		proposals: proposals,
		logger:    logger.With("component", "archiver"),
	}
}

// ArchiveAnalyses archives all risk analyses recorded strictly before the
// cutoff to archive/analyses/YYYY-MM.jsonl and deletes them from the primary
// store once the upload has been verified. Returns the number of archived
// records.
func (a *Archiver) ArchiveAnalyses(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.analyses.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive analyses query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive analyses marshal: %w", err)
	}

	path := archivePath("analyses", before)
	if err := a.uploadVerified(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive analyses: %w", err)
	}

	deleted, err := a.analyses.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive analyses prune: %w", err)
	}

	a.logger.Info("archived analyses",
		"path", path,
		"count", len(records),
		"deleted", deleted,
		"before", before.Format(time.RFC3339))
	return int64(len(records)), nil
}

// ArchiveProposals archives all rebalance proposals created strictly before
// the cutoff to archive/proposals/YYYY-MM.jsonl and deletes them from the
// primary store once the upload has been verified. Returns the number of
// archived records.
func (a *Archiver) ArchiveProposals(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.proposals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals marshal: %w", err)
	}

	path := archivePath("proposals", before)
	if err := a.uploadVerified(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals: %w", err)
	}

	deleted, err := a.proposals.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive proposals prune: %w", err)
	}

	a.logger.Info("archived proposals",
		"path", path,
		"count", len(records),
		"deleted", deleted,
		"before", before.Format(time.RFC3339))
	return int64(len(records)), nil
}

// Run archives records older than the retention window once per interval
// until the context is cancelled. Archive failures are logged and retried on
// the next tick; they never stop the loop.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) {
	a.logger.Info("archiver started", "interval", interval, "retention", retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if _, err := a.ArchiveAnalyses(ctx, cutoff); err != nil {
				a.logger.Error("analysis archive failed", "error", err)
			}
			if _, err := a.ArchiveProposals(ctx, cutoff); err != nil {
				a.logger.Error("proposal archive failed", "error", err)
			}
		}
	}
}

// uploadVerified writes the object and confirms it exists before the caller
// is allowed to prune the source rows.
func (a *Archiver) uploadVerified(ctx context.Context, path string, data []byte) error {
	if err := a.writer.Put(ctx, path, data, "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !ok {
		return fmt.Errorf("verify: object %s missing after upload", path)
	}
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/analyses/2026-08.jsonl
//	archive/proposals/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
