package signals

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/domain"
)

type fakeSource struct {
	batches [][]domain.ContextSignal
	cursors []string
	err     error
	calls   int
	seen    []string // cursors passed in
}

func (f *fakeSource) ReadSignals(ctx context.Context, cursor string, limit int) ([]domain.ContextSignal, string, error) {
	f.seen = append(f.seen, cursor)
	if f.err != nil {
		return nil, cursor, f.err
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.batches) {
		return nil, cursor, nil
	}
	return f.batches[idx], f.cursors[idx], nil
}

type fakeLoop struct {
	added     []domain.ContextSignal
	triggered int
}

func (f *fakeLoop) AddSignals(signals []domain.ContextSignal) {
	f.added = append(f.added, signals...)
}

func (f *fakeLoop) TriggerCycle() {
	f.triggered++
}

func TestPollForwardsSignals(t *testing.T) {
	source := &fakeSource{
		batches: [][]domain.ContextSignal{{
			{ID: "s1", Severity: domain.SeverityInfo},
			{ID: "s2", Severity: domain.SeverityWarning},
		}},
		cursors: []string{"100-0"},
	}
	loop := &fakeLoop{}
	w := NewWatcher(source, loop, time.Minute, slog.New(slog.DiscardHandler))

	w.poll(context.Background())

	require.Len(t, loop.added, 2)
	assert.Zero(t, loop.triggered, "non-critical signals must not force a cycle")
	assert.Equal(t, "100-0", w.cursor)
}

func TestPollCriticalForcesCycle(t *testing.T) {
	source := &fakeSource{
		batches: [][]domain.ContextSignal{{
			{ID: "s1", Severity: domain.SeverityCritical, Title: "exploit disclosed"},
		}},
		cursors: []string{"101-0"},
	}
	loop := &fakeLoop{}
	w := NewWatcher(source, loop, time.Minute, slog.New(slog.DiscardHandler))

	w.poll(context.Background())

	assert.Len(t, loop.added, 1)
	assert.Equal(t, 1, loop.triggered)
}

func TestPollCursorAdvances(t *testing.T) {
	source := &fakeSource{
		batches: [][]domain.ContextSignal{
			{{ID: "s1", Severity: domain.SeverityInfo}},
			{{ID: "s2", Severity: domain.SeverityInfo}},
		},
		cursors: []string{"5-0", "9-0"},
	}
	loop := &fakeLoop{}
	w := NewWatcher(source, loop, time.Minute, slog.New(slog.DiscardHandler))

	w.poll(context.Background())
	w.poll(context.Background())

	assert.Equal(t, []string{"0", "5-0"}, source.seen)
	assert.Equal(t, "9-0", w.cursor)
}

func TestPollSourceErrorKeepsCursor(t *testing.T) {
	source := &fakeSource{err: errors.New("redis down")}
	loop := &fakeLoop{}
	w := NewWatcher(source, loop, time.Minute, slog.New(slog.DiscardHandler))
	w.cursor = "42-0"

	w.poll(context.Background())

	assert.Empty(t, loop.added)
	assert.Equal(t, "42-0", w.cursor)
}
