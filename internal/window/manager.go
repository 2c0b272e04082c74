package window

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"echowatch/internal/config"
	"echowatch/internal/logging"
	"echowatch/internal/store"
)

// batchBuffer bounds how many sealed batches may wait for analysis before the
// window manager stops sealing new ones.
const batchBuffer = 16

// Entry is one recording's contribution to a batch.
type Entry struct {
	Recording  *store.Recording
	Transcript string
}

// Batch is a sealed window ready for semantic analysis.
type Batch struct {
	ID          string
	WindowStart time.Time
	WindowEnd   time.Time
	Entries     []Entry
}

// RecordingIDs returns the identifiers of every recording in the batch.
func (b *Batch) RecordingIDs() []string {
	ids := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		ids[i] = e.Recording.ID
	}
	return ids
}

// CombinedText renders the batch transcripts as one document, each recording
// prefixed with its identifier.
func (b *Batch) CombinedText() string {
	var sb strings.Builder
	for i, e := range b.Entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[" + e.Recording.ID + "]\n")
		sb.WriteString(strings.TrimSpace(e.Transcript))
	}
	return sb.String()
}

// Align snaps a timestamp down to the interval grid. Window starts are always
// whole multiples of the interval since the epoch, so restarts and independent
// processes agree on window boundaries.
func Align(t time.Time, interval time.Duration) time.Time {
	return t.UTC().Truncate(interval)
}

// Manager owns the single open window. A transcribed recording joins the open
// window when its completion timestamp falls before the window's end; when the
// interval elapses the window seals into a Batch and the next window opens.
// Empty windows seal into nothing.
type Manager struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger

	interval     time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	start   time.Time
	entries []Entry

	out    chan *Batch
	sealed atomic.Int64
}

// New constructs a window manager using the configured batch interval.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		store:        st,
		logger:       logging.NewComponentLogger(logger, "window"),
		interval:     cfg.BatchInterval(),
		pollInterval: time.Duration(cfg.Pipeline.PollInterval) * time.Second,
		now:          time.Now,
		out:          make(chan *Batch, batchBuffer),
	}
}

// Batches returns the channel of sealed batches in seal order. The channel is
// closed when Run returns.
func (m *Manager) Batches() <-chan *Batch {
	return m.out
}

// Sealed reports how many non-empty batches have been sealed.
func (m *Manager) Sealed() int64 {
	return m.sealed.Load()
}

// Run collects transcribed recordings into windows until the context is
// canceled. The open window at shutdown is abandoned; its recordings are
// re-queued by restart recovery.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.out)

	m.mu.Lock()
	m.start = Align(m.now(), m.interval)
	m.mu.Unlock()

	poll := time.NewTicker(m.pollInterval)
	defer poll.Stop()

	for {
		m.mu.Lock()
		windowEnd := m.start.Add(m.interval)
		m.mu.Unlock()

		sealTimer := time.NewTimer(time.Until(windowEnd))

	window:
		for {
			select {
			case <-ctx.Done():
				sealTimer.Stop()
				return ctx.Err()
			case <-poll.C:
				m.collect(ctx)
			case <-sealTimer.C:
				if err := m.seal(ctx); err != nil {
					return err
				}
				break window
			}
		}
	}
}

// collect pulls transcribed recordings into the open window. Membership keys
// off the completion timestamp: transcripts finished before the window's end
// join it (including late ones from before its start), while a transcript
// finished at or past the end waits for the next window. A transcript is
// never assigned to an already-sealed window.
func (m *Manager) collect(ctx context.Context) {
	m.mu.Lock()
	start := m.start
	m.mu.Unlock()
	windowEnd := start.Add(m.interval)

	recs, err := m.store.ListTranscribed(ctx)
	if err != nil {
		m.logger.Error("failed to list transcribed recordings",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check stage database access"))
		return
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		if rec.TranscribedAt == nil || !rec.TranscribedAt.Before(windowEnd) {
			continue
		}
		transcript, err := os.ReadFile(rec.TranscriptPath)
		if err != nil {
			m.logger.Error("failed to read transcript artifact",
				logging.String(logging.FieldRecordingID, rec.ID),
				logging.String("path", rec.TranscriptPath),
				logging.Error(err))
			continue
		}

		if err := m.store.AssignWindow(ctx, rec.ID, start); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				continue
			}
			m.logger.Error("failed to assign window",
				logging.String(logging.FieldRecordingID, rec.ID),
				logging.Error(err))
			continue
		}

		windowStart := start
		rec.Stage = store.StageBatched
		rec.WindowStart = &windowStart

		m.mu.Lock()
		m.entries = append(m.entries, Entry{Recording: rec, Transcript: string(transcript)})
		count := len(m.entries)
		m.mu.Unlock()

		m.logger.Debug("recording joined window",
			logging.String(logging.FieldRecordingID, rec.ID),
			logging.Time(logging.FieldWindowStart, start),
			logging.Int("window_size", count))
	}
}

// seal closes the open window and opens the next one on the grid. A final
// collection pass runs first so transcripts completed just before the boundary
// make this window rather than waiting a full interval.
func (m *Manager) seal(ctx context.Context) error {
	m.collect(ctx)

	m.mu.Lock()
	start := m.start
	entries := m.entries
	m.entries = nil
	next := Align(m.now(), m.interval)
	if !next.After(start) {
		next = start.Add(m.interval)
	}
	m.start = next
	m.mu.Unlock()

	if len(entries) == 0 {
		m.logger.Debug("window sealed empty", logging.Time(logging.FieldWindowStart, start))
		return nil
	}

	batch := &Batch{
		ID:          uuid.NewString(),
		WindowStart: start,
		WindowEnd:   start.Add(m.interval),
		Entries:     entries,
	}

	select {
	case m.out <- batch:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.sealed.Add(1)
	m.logger.Info("window sealed",
		logging.String("batch_id", batch.ID),
		logging.Time(logging.FieldWindowStart, start),
		logging.Int("recordings", len(entries)))
	return nil
}
