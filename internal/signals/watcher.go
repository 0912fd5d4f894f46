// Package signals ingests external context signals (exploit disclosures,
// governance alerts, market stress) and feeds them to the control loop. A
// critical signal forces an immediate out-of-band cycle instead of waiting
// for the next scheduled tick.
package signals

import (
	"context"
	"log/slog"
	"time"

	"github.com/ayush101098/nexxore/internal/domain"
)

// readBatchSize bounds how many signals one poll ingests.
const readBatchSize = 100

// Loop is the slice of the orchestrator the watcher drives.
type Loop interface {
	AddSignals(signals []domain.ContextSignal)
	TriggerCycle()
}

// Watcher polls a signal source on its own cadence, independent of the
// monitoring ticker.
type Watcher struct {
	source   domain.SignalSource
	loop     Loop
	interval time.Duration
	cursor   string
	logger   *slog.Logger
}

// NewWatcher creates a Watcher polling source every interval.
func NewWatcher(source domain.SignalSource, loop Loop, interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		source:   source,
		loop:     loop,
		interval: interval,
		cursor:   "0",
		logger:   logger.With(slog.String("component", "signal_watcher")),
	}
}

// Run polls until the context is cancelled. Source errors are logged and
// retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "signal watcher starting", slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("signal watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll reads one batch of signals and forwards it to the loop.
func (w *Watcher) poll(ctx context.Context) {
	signals, cursor, err := w.source.ReadSignals(ctx, w.cursor, readBatchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "signal read failed", slog.String("error", err.Error()))
		return
	}
	w.cursor = cursor
	if len(signals) == 0 {
		return
	}

	critical := false
	for _, sig := range signals {
		w.logger.InfoContext(ctx, "context signal ingested",
			slog.String("signal_id", sig.ID),
			slog.String("source", sig.Source),
			slog.String("severity", string(sig.Severity)),
			slog.String("title", sig.Title),
		)
		if sig.Severity == domain.SeverityCritical {
			critical = true
		}
	}

	w.loop.AddSignals(signals)
	if critical {
		w.logger.WarnContext(ctx, "critical signal received, forcing immediate cycle")
		w.loop.TriggerCycle()
	}
}
