package window

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"echowatch/internal/store"
	"echowatch/internal/testsupport"
)

func TestAlignSnapsToIntervalGrid(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	interval := time.Minute

	cases := []struct {
		offset time.Duration
		want   time.Time
	}{
		{10 * time.Second, base},
		{45 * time.Second, base},
		{65 * time.Second, base.Add(time.Minute)},
		{0, base},
	}
	for _, tc := range cases {
		if got := Align(base.Add(tc.offset), interval); !got.Equal(tc.want) {
			t.Errorf("Align(+%s) = %v, want %v", tc.offset, got, tc.want)
		}
	}
}

func newTranscribed(t *testing.T, st *store.Store, transcriptsDir, id, text string) *store.Recording {
	t.Helper()
	return newTranscribedAt(t, st, transcriptsDir, id, text, time.Now().UTC())
}

func newTranscribedAt(t *testing.T, st *store.Store, transcriptsDir, id, text string, at time.Time) *store.Recording {
	t.Helper()
	ctx := context.Background()
	testsupport.NewRecording(t, st, id, "/audio/"+id+".mp3")
	rec, err := st.Claim(ctx, store.StageArrived, store.StageTranscribing)
	if err != nil || rec == nil {
		t.Fatalf("Claim failed: rec=%v err=%v", rec, err)
	}
	path := filepath.Join(transcriptsDir, id+".txt")
	if err := os.MkdirAll(transcriptsDir, 0o755); err != nil {
		t.Fatalf("mkdir transcripts: %v", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	at = at.UTC()
	rec.TranscriptPath = path
	rec.TranscribedAt = &at
	if err := st.Complete(ctx, rec, store.StageTranscribing, store.StageTranscribed); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	return rec
}

func TestCollectAssignsRecordingsToOpenWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	newTranscribed(t, st, cfg.Paths.TranscriptsDir, "call-001", "first transcript")
	newTranscribed(t, st, cfg.Paths.TranscriptsDir, "call-002", "second transcript")

	m := New(cfg, st, nil)
	m.start = Align(time.Now(), m.interval)
	m.collect(context.Background())

	if len(m.entries) != 2 {
		t.Fatalf("expected 2 window entries, got %d", len(m.entries))
	}
	for _, id := range []string{"call-001", "call-002"} {
		rec, err := st.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if rec.Stage != store.StageBatched {
			t.Fatalf("%s: expected batched, got %s", id, rec.Stage)
		}
		if rec.WindowStart == nil || !rec.WindowStart.Equal(m.start) {
			t.Fatalf("%s: expected window start %v, got %v", id, m.start, rec.WindowStart)
		}
	}

	// A second pass finds nothing new.
	m.collect(context.Background())
	if len(m.entries) != 2 {
		t.Fatalf("expected collect to be idempotent, got %d entries", len(m.entries))
	}
}

func TestCollectDefersTranscriptsCompletedPastWindowEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	m := New(cfg, st, nil)
	base := Align(time.Now().Add(-2*time.Minute), m.interval)
	m.start = base

	newTranscribedAt(t, st, cfg.Paths.TranscriptsDir, "call-010", "engine responding", base.Add(10*time.Second))
	newTranscribedAt(t, st, cfg.Paths.TranscriptsDir, "call-045", "ladder responding", base.Add(45*time.Second))
	newTranscribedAt(t, st, cfg.Paths.TranscriptsDir, "call-060", "on the boundary", base.Add(60*time.Second))
	newTranscribedAt(t, st, cfg.Paths.TranscriptsDir, "call-065", "next interval", base.Add(65*time.Second))

	m.collect(ctx)
	if len(m.entries) != 2 {
		t.Fatalf("expected 2 entries in [%v, +60s), got %d", base, len(m.entries))
	}
	if m.entries[0].Recording.ID != "call-010" || m.entries[1].Recording.ID != "call-045" {
		t.Fatalf("unexpected window membership: %s, %s", m.entries[0].Recording.ID, m.entries[1].Recording.ID)
	}
	for _, id := range []string{"call-060", "call-065"} {
		rec, err := st.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if rec.Stage != store.StageTranscribed {
			t.Fatalf("%s: expected to stay transcribed, got %s", id, rec.Stage)
		}
	}

	if err := m.seal(ctx); err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	batch := <-m.Batches()
	if got := batch.RecordingIDs(); len(got) != 2 || got[0] != "call-010" || got[1] != "call-045" {
		t.Fatalf("unexpected sealed batch: %v", got)
	}
	if !batch.WindowEnd.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected window end: %v", batch.WindowEnd)
	}

	// The deferred transcripts join the freshly opened window.
	m.collect(ctx)
	if len(m.entries) != 2 {
		t.Fatalf("expected deferred recordings in the next window, got %d entries", len(m.entries))
	}
	if m.entries[0].Recording.ID != "call-060" || m.entries[1].Recording.ID != "call-065" {
		t.Fatalf("unexpected next-window membership: %s, %s", m.entries[0].Recording.ID, m.entries[1].Recording.ID)
	}
}

func TestSealEmitsNonEmptyBatchesInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	m := New(cfg, st, nil)
	m.start = Align(time.Now(), m.interval)

	newTranscribed(t, st, cfg.Paths.TranscriptsDir, "call-001", "hydrant blocked on main street")
	if err := m.seal(context.Background()); err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	newTranscribed(t, st, cfg.Paths.TranscriptsDir, "call-002", "second caller, same hydrant")
	if err := m.seal(context.Background()); err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	if m.Sealed() != 2 {
		t.Fatalf("expected 2 sealed batches, got %d", m.Sealed())
	}

	first := <-m.Batches()
	second := <-m.Batches()
	if len(first.Entries) != 1 || first.Entries[0].Recording.ID != "call-001" {
		t.Fatalf("unexpected first batch: %#v", first.RecordingIDs())
	}
	if len(second.Entries) != 1 || second.Entries[0].Recording.ID != "call-002" {
		t.Fatalf("unexpected second batch: %#v", second.RecordingIDs())
	}
	if first.ID == second.ID {
		t.Fatal("batch ids must be unique")
	}
	if !first.WindowEnd.Equal(first.WindowStart.Add(m.interval)) {
		t.Fatalf("unexpected window span: %v to %v", first.WindowStart, first.WindowEnd)
	}
}

func TestSealSkipsEmptyWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	m := New(cfg, st, nil)
	m.start = Align(time.Now(), m.interval)
	if err := m.seal(context.Background()); err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if m.Sealed() != 0 {
		t.Fatalf("expected no sealed batches, got %d", m.Sealed())
	}
	select {
	case b := <-m.Batches():
		t.Fatalf("expected no batch, got %v", b.RecordingIDs())
	default:
	}
}

func TestCombinedTextLabelsEachRecording(t *testing.T) {
	batch := &Batch{
		Entries: []Entry{
			{Recording: &store.Recording{ID: "call-001"}, Transcript: "first\n"},
			{Recording: &store.Recording{ID: "call-002"}, Transcript: "second"},
		},
	}
	want := "[call-001]\nfirst\n\n[call-002]\nsecond"
	if got := batch.CombinedText(); got != want {
		t.Fatalf("unexpected combined text:\n%q\nwant:\n%q", got, want)
	}
}

func TestRunSealsOnInterval(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchInterval(1))
	st := testsupport.MustOpenStore(t, cfg)

	newTranscribed(t, st, cfg.Paths.TranscriptsDir, "call-001", "short test transcript")

	m := New(cfg, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	select {
	case batch := <-m.Batches():
		if len(batch.Entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(batch.Entries))
		}
		if !batch.WindowStart.Equal(Align(batch.WindowStart, time.Second)) {
			t.Fatalf("window start %v is off-grid", batch.WindowStart)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for sealed batch")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("window manager did not stop")
	}
}
