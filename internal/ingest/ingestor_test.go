package ingest_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"echowatch/internal/ingest"
	"echowatch/internal/store"
	"echowatch/internal/testsupport"
)

func TestIsAudioFile(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"call-001.mp3", true},
		{"call-001.WAV", true},
		{"call-001.m4a", true},
		{"call-001.ogg", true},
		{"call-001.flac", true},
		{"notes.txt", false},
		{"call-001.mp3.part", false},
		{"noextension", false},
	}
	for _, tc := range cases {
		if got := ingest.IsAudioFile(tc.path); got != tc.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestRecordingID(t *testing.T) {
	if id := ingest.RecordingID("/inbound/call-2026-001.mp3"); id != "call-2026-001" {
		t.Fatalf("unexpected recording id %q", id)
	}
}

func TestRescanRegistersExistingFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboundDir, "call-001.mp3"), 64)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboundDir, "call-002.wav"), 64)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboundDir, "README.txt"), 16)

	ing := ingest.New(cfg, st, nil)
	ing.Rescan(context.Background())

	recs, err := st.ListByStage(context.Background(), store.StageArrived)
	if err != nil {
		t.Fatalf("ListByStage failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(recs))
	}
	if ing.Ingested() != 2 {
		t.Fatalf("expected ingest counter 2, got %d", ing.Ingested())
	}
}

func TestRescanIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboundDir, "call-001.mp3"), 64)

	ing := ingest.New(cfg, st, nil)
	ing.Rescan(context.Background())
	ing.Rescan(context.Background())

	recs, err := st.ListByStage(context.Background(), store.StageArrived)
	if err != nil {
		t.Fatalf("ListByStage failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(recs))
	}
	if ing.Ingested() != 1 {
		t.Fatalf("expected ingest counter 1, got %d", ing.Ingested())
	}
}

func TestRunPicksUpNewFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ing := ingest.New(cfg, st, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ing.Run(ctx)
	}()

	// Give the watcher a moment to attach before dropping the file.
	time.Sleep(200 * time.Millisecond)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboundDir, "call-001.mp3"), 64)

	deadline := time.After(10 * time.Second)
	for {
		rec, err := st.GetByID(ctx, "call-001")
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if rec != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ingestion")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ingestor did not stop")
	}
}
