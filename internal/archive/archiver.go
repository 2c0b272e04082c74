package archive

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"echowatch/internal/config"
	"echowatch/internal/fileutil"
	"echowatch/internal/logging"
	"echowatch/internal/store"
)

// sweepStages are the stages the archiver drains, with terminal failures
// landing under the failed/ subtree.
var sweepStages = map[store.Stage]bool{
	store.StageAnalyzed:            false,
	store.StageTranscriptionFailed: true,
	store.StageAnalysisFailed:      true,
}

// Archiver periodically moves finished recordings' artifacts into the archive
// tree. Archiving is idempotent: a missing artifact means an earlier attempt
// already moved it, not an error.
type Archiver struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger

	scanInterval time.Duration
	archived     atomic.Int64
}

// New constructs the archiver.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Archiver {
	return &Archiver{
		cfg:          cfg,
		store:        st,
		logger:       logging.NewComponentLogger(logger, "archive"),
		scanInterval: time.Duration(cfg.Pipeline.ArchiveScanInterval) * time.Second,
	}
}

// Archived reports how many recordings have been archived.
func (a *Archiver) Archived() int64 {
	return a.archived.Load()
}

// Run sweeps on the configured interval until the context is canceled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.scanInterval)
	defer ticker.Stop()

	a.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep archives every recording currently eligible.
func (a *Archiver) Sweep(ctx context.Context) {
	for stage, failed := range sweepStages {
		recs, err := a.store.ListByStage(ctx, stage)
		if err != nil {
			a.logger.Error("failed to list archivable recordings",
				logging.String(logging.FieldStage, string(stage)),
				logging.Error(err))
			continue
		}
		for _, rec := range recs {
			if ctx.Err() != nil {
				return
			}
			a.archiveRecording(ctx, rec, stage, failed)
		}
	}
}

func (a *Archiver) archiveRecording(ctx context.Context, rec *store.Recording, from store.Stage, failed bool) {
	logger := a.logger.With(logging.String(logging.FieldRecordingID, rec.ID))
	destDir := a.destinationDir(rec, failed)

	for _, src := range []string{rec.AudioPath, rec.TranscriptPath} {
		if src == "" {
			continue
		}
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := fileutil.MoveFile(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Already moved by a previous partial sweep.
				continue
			}
			logger.Error("failed to move artifact",
				logging.String("src", src),
				logging.String("dst", dst),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check archive directory permissions and free space"))
			return
		}
	}

	if _, err := a.store.TransitionBatch(ctx, []string{rec.ID}, from, store.StageArchived); err != nil {
		logger.Error("failed to mark recording archived", logging.Error(err))
		return
	}

	a.archived.Add(1)
	logger.Info("recording archived",
		logging.String("dest", destDir),
		logging.Bool("failed", failed))
}

// destinationDir buckets artifacts by arrival date, with failures split into
// their own subtree for operator review.
func (a *Archiver) destinationDir(rec *store.Recording, failed bool) string {
	day := rec.ArrivedAt.UTC().Format("2006-01-02")
	if failed {
		return filepath.Join(a.cfg.Paths.ArchiveDir, "failed", day)
	}
	return filepath.Join(a.cfg.Paths.ArchiveDir, day)
}
