package testsupport

import (
	"context"
	"testing"
	"time"

	"echowatch/internal/config"
	"echowatch/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewRecording registers a recording at the arrived stage for tests.
func NewRecording(t testing.TB, st *store.Store, id, audioPath string) *store.Recording {
	t.Helper()

	rec := &store.Recording{
		ID:        id,
		AudioPath: audioPath,
		Stage:     store.StageArrived,
		ArrivedAt: time.Now().UTC(),
	}
	if err := st.Register(context.Background(), rec); err != nil {
		t.Fatalf("store.Register: %v", err)
	}
	return rec
}
