package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"echowatch/internal/config"
	"echowatch/internal/services"
)

// Verdict is the model's judgment of one transcript batch.
type Verdict struct {
	Severity float64 `json:"severity"`
	Summary  string  `json:"summary"`
}

// Analyzer produces a severity verdict for a batch of transcripts.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, transcripts string) (*Verdict, error)
}

const systemPrompt = `You are an emergency communications analyst. You receive a batch of radio
call transcripts captured within one time window. Judge the batch as a whole.

Respond with ONLY a JSON object matching this schema:
{
  "severity": 0.0,
  "summary": ""
}

severity is a number from 0 (routine traffic) to 10 (mass-casualty event).
summary is one or two sentences describing the most significant activity.
Ground your judgment in the transcripts alone. Do not wrap the JSON in
markdown fences or add commentary.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	retryLimit int
	httpc      *http.Client
}

// NewClient builds an analysis client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.Analysis.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.Analysis.APIKey),
		model:      strings.TrimSpace(cfg.Analysis.Model),
		retryLimit: cfg.Analysis.RetryLimit,
		httpc:      &http.Client{Timeout: cfg.AnalysisTimeout()},
	}
}

// Analyze submits the transcripts and returns the parsed verdict. Client-side
// rejections (4xx) abort immediately; transport failures, 5xx responses, and
// unparseable output retry with exponential backoff up to the configured limit.
func (c *Client) Analyze(ctx context.Context, transcripts string) (*Verdict, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "analyze", "analysis endpoint or api key is not configured", nil)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcripts},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "analysis", "analyze", "encode request", err)
	}

	var verdict *Verdict
	op := func() error {
		v, err := c.call(ctx, payload)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	}

	bo := backoff.WithContext(c.newBackoff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (c *Client) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	limit := c.retryLimit
	if limit < 0 {
		limit = 0
	}
	return backoff.WithMaxRetries(bo, uint64(limit))
}

func (c *Client) call(ctx context.Context, payload []byte) (*Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(services.Wrap(services.ErrValidation, "analysis", "analyze", "build request", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		marker := services.ErrExternalTool
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return nil, services.Wrap(marker, "analysis", "analyze", "analysis server unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze", "read response", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(services.Wrap(services.ErrValidation, "analysis", "analyze",
			fmt.Sprintf("rejected with status %d: %s", resp.StatusCode, summarize(body)), nil))
	}
	if resp.StatusCode >= 500 {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze",
			fmt.Sprintf("server error %d: %s", resp.StatusCode, summarize(body)), nil)
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze", "decode response envelope", err)
	}
	if decoded.Error != nil {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze",
			fmt.Sprintf("api error: %s", decoded.Error.Message), nil)
	}
	if len(decoded.Choices) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze", "response carried no choices", nil)
	}

	verdict, err := parseVerdict(decoded.Choices[0].Message.Content)
	if err != nil {
		// Malformed model output is worth one more roll of the dice.
		return nil, services.Wrap(services.ErrExternalTool, "analysis", "analyze", "parse verdict", err)
	}
	return verdict, nil
}

// parseVerdict pulls the verdict JSON out of the model's reply. Models wrap
// output in markdown fences or preamble often enough that a balanced-brace
// scan is the reliable path.
func parseVerdict(content string) (*Verdict, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	v.Severity = clampSeverity(v.Severity)
	v.Summary = strings.TrimSpace(v.Summary)
	return &v, nil
}

func clampSeverity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

// extractJSON returns the first balanced JSON object in s, with markdown
// fences stripped.
func extractJSON(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
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
