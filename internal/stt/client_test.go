package stt_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"echowatch/internal/services"
	"echowatch/internal/stt"
	"echowatch/internal/testsupport"
)

func TestTranscribeUploadsAudioAndDecodesTranscript(t *testing.T) {
	var gotField, gotFilename, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if len(data) == 0 {
			t.Error("expected uploaded audio bytes")
		}
		gotField = "file"
		gotFilename = header.Filename
		gotModel = r.FormValue("model")

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" dispatcher reports a two car collision ","language":"en","duration":12.5}`)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Transcription.Endpoint = server.URL
	cfg.Transcription.Model = "base.en"

	audioPath := filepath.Join(t.TempDir(), "call-001.mp3")
	testsupport.WriteFile(t, audioPath, 512)

	client := stt.NewClient(cfg)
	result, err := client.Transcribe(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "dispatcher reports a two car collision" {
		t.Fatalf("unexpected transcript: %q", result.Text)
	}
	if result.Language != "en" {
		t.Fatalf("unexpected language: %q", result.Language)
	}
	if gotField != "file" || gotFilename != "call-001.mp3" || gotModel != "base.en" {
		t.Fatalf("unexpected upload form: field=%q filename=%q model=%q", gotField, gotFilename, gotModel)
	}
}

func TestTranscribeServerErrorIsExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Transcription.Endpoint = server.URL

	audioPath := filepath.Join(t.TempDir(), "call-001.mp3")
	testsupport.WriteFile(t, audioPath, 64)

	client := stt.NewClient(cfg)
	_, err := client.Transcribe(context.Background(), audioPath)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if services.IsPermanent(err) {
		t.Fatal("server errors should stay retryable")
	}
}

func TestTranscribeRejectionIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported codec", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Transcription.Endpoint = server.URL

	audioPath := filepath.Join(t.TempDir(), "call-001.mp3")
	testsupport.WriteFile(t, audioPath, 64)

	client := stt.NewClient(cfg)
	_, err := client.Transcribe(context.Background(), audioPath)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !services.IsPermanent(err) {
		t.Fatal("rejections should be permanent")
	}
}

func TestTranscribeMissingAudioFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcription.Endpoint = "http://127.0.0.1:9"

	client := stt.NewClient(cfg)
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
