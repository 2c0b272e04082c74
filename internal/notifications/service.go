package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"echowatch/internal/config"
)

const userAgent = "EchoWatch/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyAlert(ctx context.Context, severity float64, summary string, windowStart time.Time, recordingIDs []string) error
	NotifyPipelineStarted(ctx context.Context) error
	NotifyPipelineStopped(ctx context.Context, processed int64, alerts int64, uptime time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Alerts.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Alerts.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyAlert(ctx context.Context, severity float64, summary string, windowStart time.Time, recordingIDs []string) error {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = "no summary provided"
	}
	data := payload{
		title: fmt.Sprintf("EchoWatch - Alert (severity %.1f)", severity),
		message: fmt.Sprintf("%s\nWindow: %s (%d recordings)\nRecordings: %s",
			summary, windowStart.UTC().Format("15:04 MST"), len(recordingIDs), strings.Join(recordingIDs, ", ")),
		tags:     []string{"echowatch", "alert"},
		priority: alertPriority(severity),
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPipelineStarted(ctx context.Context) error {
	data := payload{
		title:   "EchoWatch - Started",
		message: "Pipeline started and watching for recordings",
		tags:    []string{"echowatch", "pipeline", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPipelineStopped(ctx context.Context, processed int64, alerts int64, uptime time.Duration) error {
	uptime = uptime.Round(time.Second)
	if uptime < 0 {
		uptime = 0
	}
	data := payload{
		title: "EchoWatch - Stopped",
		message: fmt.Sprintf("Pipeline stopped after %s: %d recordings processed, %d alerts sent",
			uptime, processed, alerts),
		tags: []string{"echowatch", "pipeline", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "EchoWatch - Error",
		message:  builder.String(),
		tags:     []string{"echowatch", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "EchoWatch - Test",
		message:  "Notification system test",
		tags:     []string{"echowatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func alertPriority(severity float64) string {
	if severity >= 9 {
		return "urgent"
	}
	if severity >= 7 {
		return "high"
	}
	return "default"
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy responded with status %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyAlert(context.Context, float64, string, time.Time, []string) error {
	return nil
}

func (noopService) NotifyPipelineStarted(context.Context) error { return nil }

func (noopService) NotifyPipelineStopped(context.Context, int64, int64, time.Duration) error {
	return nil
}

func (noopService) NotifyError(context.Context, error, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
