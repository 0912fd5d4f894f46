package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/domain"
)

type fakeBlobWriter struct {
	objects map[string][]byte
	err     error
}

func (w *fakeBlobWriter) Put(_ context.Context, path string, data []byte, _ string) error {
	if w.err != nil {
		return w.err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = data
	return nil
}

type fakeBlobReader struct {
	writer     *fakeBlobWriter
	existsErr  error
	alwaysMiss bool
}

func (r *fakeBlobReader) Exists(_ context.Context, path string) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	if r.alwaysMiss {
		return false, nil
	}
	_, ok := r.writer.objects[path]
	return ok, nil
}

func (r *fakeBlobReader) List(context.Context, string) ([]domain.BlobInfo, error) {
	return nil, nil
}

type fakeAnalysisArchiveStore struct {
	rows    []domain.RiskAnalysis
	deleted []time.Time
}

func (s *fakeAnalysisArchiveStore) ListBefore(_ context.Context, _ time.Time) ([]domain.RiskAnalysis, error) {
	return s.rows, nil
}

func (s *fakeAnalysisArchiveStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = append(s.deleted, before)
	return int64(len(s.rows)), nil
}

type fakeProposalArchiveStore struct {
	rows    []domain.RebalanceProposal
	deleted []time.Time
}

func (s *fakeProposalArchiveStore) ListBefore(_ context.Context, _ time.Time) ([]domain.RebalanceProposal, error) {
	return s.rows, nil
}

func (s *fakeProposalArchiveStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = append(s.deleted, before)
	return int64(len(s.rows)), nil
}

func testArchiver(w *fakeBlobWriter, r *fakeBlobReader, a *fakeAnalysisArchiveStore, p *fakeProposalArchiveStore) *Archiver {
	logger := slog.New(slog.DiscardHandler)
	return NewArchiver(w, r, a, p, logger)
}

func TestArchiveAnalysesUploadsAndPrunes(t *testing.T) {
	writer := &fakeBlobWriter{}
	reader := &fakeBlobReader{writer: writer}
	analyses := &fakeAnalysisArchiveStore{rows: []domain.RiskAnalysis{
		{Timestamp: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), CompositeScore: 3200, RiskLevel: domain.RiskNormal},
		{Timestamp: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), CompositeScore: 6100, RiskLevel: domain.RiskElevated},
	}}
	arch := testArchiver(writer, reader, analyses, &fakeProposalArchiveStore{})

	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveAnalyses(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	data, ok := writer.objects["archive/analyses/2026-06.jsonl"]
	require.True(t, ok, "archive object should be uploaded")
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)
	var first domain.RiskAnalysis
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, int64(3200), first.CompositeScore)

	require.Len(t, analyses.deleted, 1)
	assert.Equal(t, cutoff, analyses.deleted[0])
}

func TestArchiveSkipsWhenNoRecords(t *testing.T) {
	writer := &fakeBlobWriter{}
	reader := &fakeBlobReader{writer: writer}
	analyses := &fakeAnalysisArchiveStore{}
	arch := testArchiver(writer, reader, analyses, &fakeProposalArchiveStore{})

	count, err := arch.ArchiveAnalyses(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects)
	assert.Empty(t, analyses.deleted)
}

func TestArchiveDoesNotPruneWhenVerifyFails(t *testing.T) {
	writer := &fakeBlobWriter{}
	reader := &fakeBlobReader{writer: writer, alwaysMiss: true}
	proposals := &fakeProposalArchiveStore{rows: []domain.RebalanceProposal{
		{ID: "p1", FromStrategyID: "strat-a", ToStrategyID: "strat-b", Amount: 250_000},
	}}
	arch := testArchiver(writer, reader, &fakeAnalysisArchiveStore{}, proposals)

	_, err := arch.ArchiveProposals(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify")
	assert.Empty(t, proposals.deleted, "rows must survive a failed verification")
}

func TestArchiveDoesNotPruneWhenUploadFails(t *testing.T) {
	writer := &fakeBlobWriter{err: errors.New("bucket unavailable")}
	reader := &fakeBlobReader{writer: writer}
	proposals := &fakeProposalArchiveStore{rows: []domain.RebalanceProposal{{ID: "p1"}}}
	arch := testArchiver(writer, reader, &fakeAnalysisArchiveStore{}, proposals)

	_, err := arch.ArchiveProposals(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, proposals.deleted)
}
