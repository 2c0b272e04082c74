package testsupport

import (
	"path/filepath"
	"testing"

	"echowatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Analysis.APIKey = "test"
	cfg.Paths.InboundDir = filepath.Join(base, "inbound")
	cfg.Paths.TranscriptsDir = filepath.Join(base, "transcripts")
	cfg.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Batch.IntervalSeconds = 60
	cfg.Pipeline.PollInterval = 1
	cfg.Pipeline.RescanInterval = 1
	cfg.Pipeline.ArchiveScanInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithBatchInterval overrides the window duration in seconds.
func WithBatchInterval(seconds int) ConfigOption {
	return func(c *config.Config) {
		c.Batch.IntervalSeconds = seconds
	}
}

// WithSeverityThreshold overrides the alert threshold.
func WithSeverityThreshold(threshold float64) ConfigOption {
	return func(c *config.Config) {
		c.Analysis.SeverityThreshold = threshold
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InboundDir)
}
