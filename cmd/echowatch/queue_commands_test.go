package main

import (
	"context"
	"testing"

	"echowatch/internal/store"
	"echowatch/internal/testsupport"
)

func TestStatusReportsEmptyQueue(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "No recordings tracked")
}

func TestStatusAndQueueListShowRecordings(t *testing.T) {
	env := setupCLITestEnv(t)

	st := testsupport.MustOpenStore(t, env.cfg)
	testsupport.NewRecording(t, st, "call-001", "/tmp/call-001.mp3")
	testsupport.NewRecording(t, st, "call-002", "/tmp/call-002.mp3")
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "arrived")
	requireContains(t, out, "Total: 2 recordings")

	out, _, err = runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "call-001")
	requireContains(t, out, "call-002")

	out, _, err = runCLI(t, []string{"queue", "list", "--stage", "archived"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list --stage: %v", err)
	}
	requireContains(t, out, "No matching recordings")

	_, _, err = runCLI(t, []string{"queue", "list", "--stage", "bogus"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown stage filter")
	}
	requireContains(t, err.Error(), "unknown stage")
}

func TestQueueClearRemovesRecordings(t *testing.T) {
	env := setupCLITestEnv(t)

	st := testsupport.MustOpenStore(t, env.cfg)
	rec := testsupport.NewRecording(t, st, "call-done", "/tmp/call-done.mp3")
	if _, err := st.TransitionBatch(context.Background(), []string{rec.ID}, store.StageArrived, store.StageArchived); err != nil {
		t.Fatalf("archive recording: %v", err)
	}
	testsupport.NewRecording(t, st, "call-live", "/tmp/call-live.mp3")
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Removed 1 recordings")

	out, _, err = runCLI(t, []string{"queue", "clear", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear --all: %v", err)
	}
	requireContains(t, out, "Removed 1 recordings")
}

func TestVerdictsEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"verdicts"}, env.configPath)
	if err != nil {
		t.Fatalf("verdicts: %v", err)
	}
	requireContains(t, out, "No verdicts recorded")
}
