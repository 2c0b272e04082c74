package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.InboundDir) == "" {
		return errors.New("paths.inbound_dir must be set")
	}
	if strings.TrimSpace(c.Paths.TranscriptsDir) == "" {
		return errors.New("paths.transcripts_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ArchiveDir) == "" {
		return errors.New("paths.archive_dir must be set")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if strings.TrimSpace(c.Transcription.Endpoint) == "" {
		return errors.New("transcription.endpoint must be set")
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		return errors.New("transcription.timeout_seconds must be positive")
	}
	if c.Transcription.Workers <= 0 {
		return errors.New("transcription.workers must be positive")
	}
	if c.Transcription.RetryLimit < 0 {
		return errors.New("transcription.retry_limit must not be negative")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if strings.TrimSpace(c.Analysis.BaseURL) == "" {
		return errors.New("analysis.base_url must be set")
	}
	if strings.TrimSpace(c.Analysis.Model) == "" {
		return errors.New("analysis.model must be set")
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		return errors.New("analysis.timeout_seconds must be positive")
	}
	if c.Analysis.RetryLimit < 0 {
		return errors.New("analysis.retry_limit must not be negative")
	}
	if c.Analysis.SeverityThreshold < 0 || c.Analysis.SeverityThreshold > 10 {
		return errors.New("analysis.severity_threshold must be between 0 and 10")
	}
	if c.Analysis.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/echowatch/config.toml"
		}
		return fmt.Errorf("analysis.api_key is required. Set ECHOWATCH_ANALYSIS_API_KEY env var or edit %s (create with 'echowatch config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.IntervalSeconds <= 0 {
		return errors.New("batch.interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.PollInterval <= 0 {
		return errors.New("pipeline.poll_interval must be positive")
	}
	if c.Pipeline.ErrorRetryInterval <= 0 {
		return errors.New("pipeline.error_retry_interval must be positive")
	}
	if c.Pipeline.RescanInterval <= 0 {
		return errors.New("pipeline.rescan_interval must be positive")
	}
	if c.Pipeline.ArchiveScanInterval <= 0 {
		return errors.New("pipeline.archive_scan_interval must be positive")
	}
	return nil
}
