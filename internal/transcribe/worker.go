package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"echowatch/internal/config"
	"echowatch/internal/logging"
	"echowatch/internal/services"
	"echowatch/internal/store"
	"echowatch/internal/stt"
)

// Worker drives the transcription stage. Start launches the configured number
// of claim loops; each loop claims one arrived recording at a time, so a
// recording is never transcribed twice concurrently.
type Worker struct {
	cfg         *config.Config
	store       *store.Store
	transcriber stt.Transcriber
	logger      *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration

	wg        sync.WaitGroup
	completed atomic.Int64
}

// New constructs the transcription worker.
func New(cfg *config.Config, st *store.Store, transcriber stt.Transcriber, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:                cfg,
		store:              st,
		transcriber:        transcriber,
		logger:             logging.NewComponentLogger(logger, "transcribe"),
		pollInterval:       time.Duration(cfg.Pipeline.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Pipeline.ErrorRetryInterval) * time.Second,
	}
}

// Completed reports how many recordings this worker has transcribed.
func (w *Worker) Completed() int64 {
	return w.completed.Load()
}

// Start launches the worker goroutines. They run until the context is
// canceled; Wait blocks until all of them have drained.
func (w *Worker) Start(ctx context.Context) {
	workers := w.cfg.Transcription.Workers
	if workers < 1 {
		workers = 1
	}
	w.wg.Add(workers)
	for n := 0; n < workers; n++ {
		go func() {
			defer w.wg.Done()
			w.run(ctx)
		}()
	}
}

// Wait blocks until every worker goroutine has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, err := w.store.Claim(ctx, store.StageArrived, store.StageTranscribing)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to claim recording",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check stage database access"))
			w.sleep(ctx, w.errorRetryInterval)
			continue
		}
		if rec == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		if err := w.process(ctx, rec); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, rec *store.Recording) error {
	logger := w.logger.With(logging.String(logging.FieldRecordingID, rec.ID))
	ctx = services.WithRecordingID(ctx, rec.ID)

	started := time.Now()
	result, err := w.transcriber.Transcribe(ctx, rec.AudioPath)
	if err != nil {
		return w.fail(ctx, logger, rec, err)
	}

	transcriptPath, err := w.writeTranscript(rec.ID, result.Text)
	if err != nil {
		return w.fail(ctx, logger, rec, err)
	}

	now := time.Now().UTC()
	rec.TranscriptPath = transcriptPath
	rec.TranscribedAt = &now
	rec.ErrorMessage = ""
	if err := w.store.Complete(ctx, rec, store.StageTranscribing, store.StageTranscribed); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Someone else moved the recording while we worked; drop our result.
			logger.Warn("recording left transcribing stage mid-flight", logging.Error(err))
			return nil
		}
		return w.fail(ctx, logger, rec, err)
	}

	w.completed.Add(1)
	logger.Info("transcription complete",
		logging.String("transcript", transcriptPath),
		logging.Int("chars", len(result.Text)),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, rec *store.Recording, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}

	retryLimit := w.cfg.Transcription.RetryLimit
	if services.IsPermanent(cause) {
		// No retry will fix a rejected or unreadable file.
		retryLimit = 0
	}

	next, err := w.store.Fail(ctx, rec, store.StageTranscribing, cause, retryLimit)
	if err != nil {
		logger.Error("failed to record transcription failure", logging.Error(err))
		return err
	}

	if next == store.StageTranscriptionFailed {
		logger.Error("transcription failed permanently",
			logging.Error(cause),
			logging.Int("retries", rec.RetryCount),
			logging.String(logging.FieldEventType, "transcription_failed"),
			logging.String(logging.FieldErrorHint, "inspect the audio file and transcription server logs"))
	} else {
		logger.Warn("transcription failed, will retry",
			logging.Error(cause),
			logging.Int("retries", rec.RetryCount))
	}
	return nil
}

// writeTranscript persists the transcript artifact next to its eventual
// archive peers. Write-then-rename keeps readers from seeing partial text.
func (w *Worker) writeTranscript(id, text string) (string, error) {
	dir := w.cfg.Paths.TranscriptsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcripts dir: %w", err)
	}
	final := filepath.Join(dir, id+".txt")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("finalize transcript: %w", err)
	}
	return final, nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
