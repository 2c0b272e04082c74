package analyze

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"echowatch/internal/analysis"
	"echowatch/internal/config"
	"echowatch/internal/logging"
	"echowatch/internal/notifications"
	"echowatch/internal/store"
	"echowatch/internal/window"
)

// Worker consumes sealed batches from the window manager. Batches are
// processed strictly one at a time in seal order; a later window's verdict
// never lands before an earlier one's.
type Worker struct {
	cfg      *config.Config
	store    *store.Store
	analyzer analysis.Analyzer
	notifier notifications.Service
	logger   *slog.Logger

	analyzed   atomic.Int64
	alertsSent atomic.Int64
}

// New constructs the analysis stage worker.
func New(cfg *config.Config, st *store.Store, analyzer analysis.Analyzer, notifier notifications.Service, logger *slog.Logger) *Worker {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Worker{
		cfg:      cfg,
		store:    st,
		analyzer: analyzer,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "analyze"),
	}
}

// Analyzed reports how many batches have been analyzed successfully.
func (w *Worker) Analyzed() int64 {
	return w.analyzed.Load()
}

// AlertsSent reports how many alerts have been raised.
func (w *Worker) AlertsSent() int64 {
	return w.alertsSent.Load()
}

// Run drains the batch channel until it closes or the context is canceled.
func (w *Worker) Run(ctx context.Context, batches <-chan *window.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			w.process(ctx, batch)
		}
	}
}

func (w *Worker) process(ctx context.Context, batch *window.Batch) {
	logger := w.logger.With(
		logging.String("batch_id", batch.ID),
		logging.Time(logging.FieldWindowStart, batch.WindowStart))
	ids := batch.RecordingIDs()

	moved, err := w.store.TransitionBatch(ctx, ids, store.StageBatched, store.StageAnalyzing)
	if err != nil {
		logger.Error("failed to mark batch analyzing", logging.Error(err))
		return
	}
	if moved == 0 {
		// Every recording drifted out from under us; nothing left to judge.
		logger.Warn("batch had no recordings left in batched stage")
		return
	}

	started := time.Now()
	verdict, err := w.analyzer.Analyze(ctx, batch.CombinedText())
	if err != nil {
		w.fail(ctx, logger, ids, err)
		return
	}

	saved := &store.Verdict{
		BatchID:      batch.ID,
		WindowStart:  batch.WindowStart,
		WindowEnd:    batch.WindowEnd,
		Severity:     verdict.Severity,
		Summary:      verdict.Summary,
		RecordingIDs: ids,
	}
	if err := w.store.SaveVerdict(ctx, saved); err != nil {
		w.fail(ctx, logger, ids, err)
		return
	}

	// The alert goes out before the batch is marked analyzed: a crash after
	// the transition would otherwise drop an above-threshold alert with no
	// recovery path, while the reverse order at worst re-alerts.
	if verdict.Severity >= w.cfg.Analysis.SeverityThreshold {
		w.alert(ctx, logger, batch, verdict)
	}

	if _, err := w.store.TransitionBatch(ctx, ids, store.StageAnalyzing, store.StageAnalyzed); err != nil {
		logger.Error("failed to mark batch analyzed", logging.Error(err))
		return
	}

	w.analyzed.Add(1)
	logger.Info("batch analyzed",
		logging.Float64("severity", verdict.Severity),
		logging.Int("recordings", len(ids)),
		logging.Duration("elapsed", time.Since(started)))
}

// alert raises exactly one notification per qualifying batch. Notification
// failures are logged and dropped; the verdict is already persisted and a
// slow ntfy server must not stall the analysis lane.
func (w *Worker) alert(ctx context.Context, logger *slog.Logger, batch *window.Batch, verdict *analysis.Verdict) {
	err := w.notifier.NotifyAlert(ctx, verdict.Severity, verdict.Summary, batch.WindowStart, batch.RecordingIDs())
	if err != nil {
		logger.Warn("alert delivery failed",
			logging.Error(err),
			logging.Float64("severity", verdict.Severity),
			logging.String(logging.FieldErrorHint, "check ntfy topic configuration"))
		return
	}
	w.alertsSent.Add(1)
	logger.Info("alert sent", logging.Float64("severity", verdict.Severity))
}

// fail parks the batch's recordings in analysis_failed. The analyzer has
// already burned its retry budget internally by the time an error reaches
// here, so the failure is terminal; operators reset it with queue retry.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, ids []string, cause error) {
	if errors.Is(cause, context.Canceled) {
		return
	}

	if _, err := w.store.TransitionBatch(ctx, ids, store.StageAnalyzing, store.StageAnalysisFailed); err != nil {
		logger.Error("failed to park failed batch", logging.Error(err))
		return
	}

	logger.Error("batch analysis failed",
		logging.Error(cause),
		logging.Int("recordings", len(ids)),
		logging.String(logging.FieldEventType, "analysis_failed"),
		logging.String(logging.FieldErrorHint, "inspect analysis server credentials and availability"))
}
