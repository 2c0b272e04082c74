package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"echowatch/internal/config"
	"echowatch/internal/services"
)

// Result carries the transcript produced for a single recording.
type Result struct {
	Text     string
	Language string
	Duration time.Duration
}

// Transcriber converts an audio file into text. Implementations must be safe
// for concurrent use; the pipeline runs several transcription workers.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
}

type transcribeResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Client talks to a whisper-style transcription server over HTTP. The server
// accepts a multipart upload with the audio under the "file" field and an
// optional "model" field, and responds with JSON.
type Client struct {
	endpoint string
	model    string
	httpc    *http.Client
}

// NewClient builds a transcription client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		endpoint: strings.TrimSpace(cfg.Transcription.Endpoint),
		model:    strings.TrimSpace(cfg.Transcription.Model),
		httpc:    &http.Client{Timeout: cfg.TranscriptionTimeout()},
	}
}

// Transcribe uploads the audio file and returns the transcript. Server-side
// rejections (4xx) come back as validation errors so callers skip retries;
// connection failures and 5xx responses are transient.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if c.endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "stt", "transcribe", "transcription endpoint is not configured", nil)
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "stt", "transcribe", fmt.Sprintf("open audio %s", audioPath), err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "stt", "transcribe", "build multipart body", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, services.Wrap(services.ErrValidation, "stt", "transcribe", fmt.Sprintf("read audio %s", audioPath), err)
	}
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return nil, services.Wrap(services.ErrTransient, "stt", "transcribe", "build multipart body", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, services.Wrap(services.ErrTransient, "stt", "transcribe", "finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "stt", "transcribe", "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		marker := services.ErrExternalTool
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return nil, services.Wrap(marker, "stt", "transcribe", "transcription server unreachable", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "stt", "transcribe", "read response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, services.Wrap(services.ErrExternalTool, "stt", "transcribe",
			fmt.Sprintf("server error %d: %s", resp.StatusCode, summarize(payload)), nil)
	case resp.StatusCode >= 400:
		return nil, services.Wrap(services.ErrValidation, "stt", "transcribe",
			fmt.Sprintf("rejected with status %d: %s", resp.StatusCode, summarize(payload)), nil)
	}

	var decoded transcribeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "stt", "transcribe", "decode response", err)
	}

	return &Result{
		Text:     strings.TrimSpace(decoded.Text),
		Language: decoded.Language,
		Duration: time.Duration(decoded.Duration * float64(time.Second)),
	}, nil
}

func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return "<empty body>"
	}
	return text
}
