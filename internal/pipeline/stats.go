package pipeline

import (
	"context"
	"time"

	"echowatch/internal/logging"
	"echowatch/internal/store"
)

// Snapshot is a point-in-time view of pipeline activity.
type Snapshot struct {
	Ingested        int64
	Transcribed     int64
	BatchesSealed   int64
	BatchesAnalyzed int64
	AlertsSent      int64
	Archived        int64
	Stages          map[store.Stage]int
}

// Stats returns the current activity counters and per-stage queue depths.
func (m *Manager) Stats(ctx context.Context) (*Snapshot, error) {
	stages, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Ingested:        m.ingestor.Ingested(),
		Transcribed:     m.transcriber.Completed(),
		BatchesSealed:   m.windows.Sealed(),
		BatchesAnalyzed: m.analyzer.Analyzed(),
		AlertsSent:      m.analyzer.AlertsSent(),
		Archived:        m.archiver.Archived(),
		Stages:          stages,
	}, nil
}

// runStats logs an activity report on the configured interval. An interval of
// zero disables the reporter.
func (m *Manager) runStats(ctx context.Context) error {
	interval := time.Duration(m.cfg.Pipeline.StatsIntervalSeconds) * time.Second
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := m.Stats(ctx)
			if err != nil {
				m.logger.Warn("stats collection failed", logging.Error(err))
				continue
			}
			m.logger.Info("pipeline activity",
				logging.Int64("ingested", snap.Ingested),
				logging.Int64("transcribed", snap.Transcribed),
				logging.Int64("batches_sealed", snap.BatchesSealed),
				logging.Int64("batches_analyzed", snap.BatchesAnalyzed),
				logging.Int64("alerts_sent", snap.AlertsSent),
				logging.Int64("archived", snap.Archived),
				logging.Int("arrived", snap.Stages[store.StageArrived]),
				logging.Int("transcribed_waiting", snap.Stages[store.StageTranscribed]))
		}
	}
}
