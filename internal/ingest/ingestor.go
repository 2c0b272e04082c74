package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"echowatch/internal/config"
	"echowatch/internal/logging"
	"echowatch/internal/services"
	"echowatch/internal/store"
)

var audioExtensions = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".m4a":  {},
	".ogg":  {},
	".flac": {},
}

const (
	settlePollInterval = 200 * time.Millisecond
	settleMaxWait      = 10 * time.Second
)

// Ingestor registers inbound audio files with the stage store. It combines a
// filesystem watcher with a periodic rescan, so files that arrive while the
// process is down (or whose events are dropped) are still picked up.
type Ingestor struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger

	rescanInterval time.Duration
	ingested       atomic.Int64
}

// New constructs an Ingestor for the configured inbound directory.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		cfg:            cfg,
		store:          st,
		logger:         logging.NewComponentLogger(logger, "ingest"),
		rescanInterval: time.Duration(cfg.Pipeline.RescanInterval) * time.Second,
	}
}

// Ingested reports how many recordings this instance has registered.
func (i *Ingestor) Ingested() int64 {
	return i.ingested.Load()
}

// Run watches the inbound directory until the context is canceled. The initial
// scan registers anything already present before watch events are consumed.
func (i *Ingestor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "ingest", "run", "create filesystem watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(i.cfg.Paths.InboundDir); err != nil {
		return services.Wrap(services.ErrConfiguration, "ingest", "run", fmt.Sprintf("watch %s", i.cfg.Paths.InboundDir), err)
	}

	i.logger.Info("watching inbound directory",
		logging.String("dir", i.cfg.Paths.InboundDir),
		logging.Duration("rescan_interval", i.rescanInterval))

	i.Rescan(ctx)

	ticker := time.NewTicker(i.rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				i.handleCandidate(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			i.logger.Warn("watcher error", logging.Error(err))
		case <-ticker.C:
			i.Rescan(ctx)
		}
	}
}

// Rescan walks the inbound directory once and registers any audio files found.
func (i *Ingestor) Rescan(ctx context.Context) {
	entries, err := os.ReadDir(i.cfg.Paths.InboundDir)
	if err != nil {
		i.logger.Warn("inbound directory scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		i.handleCandidate(ctx, filepath.Join(i.cfg.Paths.InboundDir, entry.Name()))
	}
}

func (i *Ingestor) handleCandidate(ctx context.Context, path string) {
	if !IsAudioFile(path) {
		return
	}
	if err := i.waitSettled(ctx, path); err != nil {
		i.logger.Debug("skipping unsettled file", logging.String("path", path), logging.Error(err))
		return
	}

	id := RecordingID(path)
	rec := &store.Recording{
		ID:        id,
		AudioPath: path,
		Stage:     store.StageArrived,
		ArrivedAt: time.Now().UTC(),
	}
	created, err := i.store.RegisterIfNew(ctx, rec)
	if err != nil {
		i.logger.Error("failed to register recording",
			logging.String(logging.FieldRecordingID, id),
			logging.String("path", path),
			logging.Error(err))
		return
	}
	if !created {
		return
	}
	i.ingested.Add(1)
	i.logger.Info("recording arrived",
		logging.String(logging.FieldRecordingID, id),
		logging.String("path", path))
}

// waitSettled waits until the file's size holds steady across two polls.
// Uploaders and network copies create the file before its bytes finish
// arriving; registering early would hand the transcriber a truncated file.
func (i *Ingestor) waitSettled(ctx context.Context, path string) error {
	deadline := time.Now().Add(settleMaxWait)
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > 0 && info.Size() == lastSize {
			return nil
		}
		lastSize = info.Size()
		if time.Now().After(deadline) {
			return fmt.Errorf("file %s did not settle within %s", path, settleMaxWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePollInterval):
		}
	}
}

// IsAudioFile reports whether the path carries a supported audio extension.
func IsAudioFile(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// RecordingID derives the stable recording identifier from the audio path.
// The filename stem is the key: the same file re-dropped under the same name
// is the same recording.
func RecordingID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
