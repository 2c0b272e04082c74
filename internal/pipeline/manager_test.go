package pipeline_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"echowatch/internal/analysis"
	"echowatch/internal/pipeline"
	"echowatch/internal/store"
	"echowatch/internal/stt"
	"echowatch/internal/testsupport"
)

type scriptedTranscriber struct{}

func (scriptedTranscriber) Transcribe(ctx context.Context, audioPath string) (*stt.Result, error) {
	return &stt.Result{Text: "transcript for " + filepath.Base(audioPath)}, nil
}

type scriptedAnalyzer struct {
	severity float64
}

func (a scriptedAnalyzer) Analyze(ctx context.Context, transcripts string) (*analysis.Verdict, error) {
	return &analysis.Verdict{Severity: a.severity, Summary: "scripted verdict"}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts int
}

func (n *recordingNotifier) NotifyAlert(ctx context.Context, severity float64, summary string, windowStart time.Time, recordingIDs []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts++
	return nil
}

func (n *recordingNotifier) NotifyPipelineStarted(context.Context) error { return nil }

func (n *recordingNotifier) NotifyPipelineStopped(context.Context, int64, int64, time.Duration) error {
	return nil
}

func (n *recordingNotifier) NotifyError(context.Context, error, string) error { return nil }

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func (n *recordingNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alerts
}

func TestPipelineCarriesRecordingEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithBatchInterval(1),
		testsupport.WithSeverityThreshold(6))
	st := testsupport.MustOpenStore(t, cfg)

	notifier := &recordingNotifier{}
	mgr := pipeline.NewManagerWithCollaborators(cfg, st, nil,
		scriptedTranscriber{}, scriptedAnalyzer{severity: 8}, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboundDir, "call-001.mp3"), 256)

	deadline := time.After(30 * time.Second)
	for {
		rec, err := st.GetByID(context.Background(), "call-001")
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if rec != nil && rec.Stage == store.StageArchived {
			break
		}
		select {
		case <-deadline:
			stage := store.Stage("<missing>")
			if rec != nil {
				stage = rec.Stage
			}
			t.Fatalf("recording never archived (currently %s)", stage)
		case <-time.After(100 * time.Millisecond):
		}
	}

	verdicts, err := st.ListVerdicts(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListVerdicts failed: %v", err)
	}
	if len(verdicts) == 0 {
		t.Fatal("expected at least one verdict")
	}
	if verdicts[0].Severity != 8 {
		t.Fatalf("unexpected severity: %v", verdicts[0].Severity)
	}
	if notifier.alertCount() == 0 {
		t.Fatal("expected an alert above threshold")
	}

	snap, err := mgr.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if snap.Ingested != 1 || snap.Transcribed != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.BatchesAnalyzed == 0 || snap.AlertsSent == 0 || snap.Archived == 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestPipelineRecoversInterruptedWorkOnStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	// A recording stuck in batched from a previous run. Its transcript
	// artifact is gone, so no stage will move it again after recovery.
	ctx := context.Background()
	testsupport.NewRecording(t, st, "call-001", filepath.Join(cfg.Paths.InboundDir, "call-001.mp3"))
	rec, err := st.Claim(ctx, store.StageArrived, store.StageTranscribing)
	if err != nil || rec == nil {
		t.Fatalf("Claim failed: rec=%v err=%v", rec, err)
	}
	now := time.Now().UTC()
	rec.TranscriptPath = filepath.Join(cfg.Paths.TranscriptsDir, "call-001.txt")
	rec.TranscribedAt = &now
	if err := st.Complete(ctx, rec, store.StageTranscribing, store.StageTranscribed); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := st.AssignWindow(ctx, rec.ID, now.Truncate(time.Minute)); err != nil {
		t.Fatalf("AssignWindow failed: %v", err)
	}

	mgr := pipeline.NewManagerWithCollaborators(cfg, st, nil,
		scriptedTranscriber{}, scriptedAnalyzer{severity: 1}, &recordingNotifier{})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(runCtx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mgr.Stop()

	got, err := st.GetByID(ctx, "call-001")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Stage != store.StageTranscribed {
		t.Fatalf("expected recovery to transcribed, got %s", got.Stage)
	}
	if got.WindowStart != nil {
		t.Fatalf("expected cleared window assignment, got %v", got.WindowStart)
	}
}

func TestPipelineStartTwiceFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	mgr := pipeline.NewManagerWithCollaborators(cfg, st, nil,
		scriptedTranscriber{}, scriptedAnalyzer{}, &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	if err := mgr.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
}
