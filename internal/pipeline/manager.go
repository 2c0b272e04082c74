package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"echowatch/internal/analysis"
	"echowatch/internal/analyze"
	"echowatch/internal/archive"
	"echowatch/internal/config"
	"echowatch/internal/ingest"
	"echowatch/internal/logging"
	"echowatch/internal/notifications"
	"echowatch/internal/store"
	"echowatch/internal/stt"
	"echowatch/internal/transcribe"
	"echowatch/internal/window"
)

// Manager owns the pipeline's component lifecycle. Start launches every stage;
// Stop cancels them and waits for a clean drain.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	notifier notifications.Service

	ingestor    *ingest.Ingestor
	transcriber *transcribe.Worker
	windows     *window.Manager
	analyzer    *analyze.Worker
	archiver    *archive.Archiver

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// NewManager constructs a pipeline manager backed by the real collaborators.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger) *Manager {
	return NewManagerWithCollaborators(cfg, st, logger, stt.NewClient(cfg), analysis.NewClient(cfg), notifications.NewService(cfg))
}

// NewManagerWithCollaborators constructs a pipeline manager with explicit
// collaborators (used in tests).
func NewManagerWithCollaborators(
	cfg *config.Config,
	st *store.Store,
	logger *slog.Logger,
	transcriber stt.Transcriber,
	analyzer analysis.Analyzer,
	notifier notifications.Service,
) *Manager {
	windows := window.New(cfg, st, logger)
	return &Manager{
		cfg:         cfg,
		store:       st,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		notifier:    notifier,
		ingestor:    ingest.New(cfg, st, logger),
		transcriber: transcribe.New(cfg, st, transcriber, logger),
		windows:     windows,
		analyzer:    analyze.New(cfg, st, analyzer, notifier, logger),
		archiver:    archive.New(cfg, st, logger),
	}
}

// Start recovers interrupted work and launches every stage. It returns once
// the goroutines are running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}

	if err := m.cfg.EnsureDirectories(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("ensure directories: %w", err)
	}

	recovered, err := m.store.RecoverInFlight(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("recover in-flight recordings: %w", err)
	}
	if recovered > 0 {
		m.logger.Info("re-queued interrupted recordings", logging.Int64("count", recovered))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.started = time.Now()
	m.mu.Unlock()

	m.runComponent(runCtx, "ingest", m.ingestor.Run)
	m.runComponent(runCtx, "window", m.windows.Run)
	m.runComponent(runCtx, "archive", m.archiver.Run)
	m.runComponent(runCtx, "analyze", func(ctx context.Context) error {
		return m.analyzer.Run(ctx, m.windows.Batches())
	})
	m.runComponent(runCtx, "stats", m.runStats)

	m.transcriber.Start(runCtx)

	m.logger.Info("pipeline started",
		logging.String("inbound", m.cfg.Paths.InboundDir),
		logging.Duration("batch_interval", m.cfg.BatchInterval()),
		logging.Int("transcription_workers", m.cfg.Transcription.Workers))

	if err := m.notifier.NotifyPipelineStarted(runCtx); err != nil {
		m.logger.Warn("start notification failed", logging.Error(err))
	}
	return nil
}

func (m *Manager) runComponent(ctx context.Context, name string, run func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("component exited with error",
				logging.String(logging.FieldComponent, name),
				logging.Error(err))
		}
	}()
}

// Stop cancels the pipeline and waits for every component to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	started := m.started
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.transcriber.Wait()
	m.wg.Wait()

	processed := m.transcriber.Completed()
	alerts := m.analyzer.AlertsSent()
	uptime := time.Since(started)
	m.logger.Info("pipeline stopped",
		logging.Int64("recordings_processed", processed),
		logging.Int64("alerts_sent", alerts),
		logging.Duration("uptime", uptime.Round(time.Second)))

	notifyCtx, cancelNotify := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelNotify()
	if err := m.notifier.NotifyPipelineStopped(notifyCtx, processed, alerts, uptime); err != nil {
		m.logger.Warn("stop notification failed", logging.Error(err))
	}
}
