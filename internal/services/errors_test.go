package services_test

import (
	"errors"
	"strings"
	"testing"

	"echowatch/internal/services"
)

func TestWrapTagsMarkerAndKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := services.Wrap(services.ErrExternalTool, "transcriber", "post audio", "server unreachable", cause)

	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatal("expected external tool marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive")
	}
	for _, fragment := range []string{"transcriber", "post audio", "server unreachable"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %q", fragment, err.Error())
		}
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "analyzer", "analyze", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected transient marker for nil input")
	}
}

func TestIsPermanent(t *testing.T) {
	if services.IsPermanent(services.Wrap(services.ErrTimeout, "a", "b", "", nil)) {
		t.Fatal("timeout should be retryable")
	}
	if !services.IsPermanent(services.Wrap(services.ErrValidation, "a", "b", "", nil)) {
		t.Fatal("validation should be permanent")
	}
	if !services.IsPermanent(services.Wrap(services.ErrConfiguration, "a", "b", "", nil)) {
		t.Fatal("configuration should be permanent")
	}
}
