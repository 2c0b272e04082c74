package config

import "time"

const (
	defaultInboundDir     = "~/.local/share/echowatch/inbound"
	defaultTranscriptsDir = "~/.local/share/echowatch/transcripts"
	defaultArchiveDir     = "~/.local/share/echowatch/archive"
	defaultLogDir         = "~/.local/share/echowatch/logs"

	defaultTranscriptionEndpoint = "http://127.0.0.1:9000/transcribe"
	defaultTranscriptionModel    = "base.en"
	defaultTranscriptionTimeout  = 120
	defaultTranscriptionWorkers  = 2
	defaultTranscriptionRetries  = 3

	defaultAnalysisBaseURL   = "https://openrouter.ai/api/v1"
	defaultAnalysisModel     = "google/gemini-3-flash-preview"
	defaultAnalysisTimeout   = 60
	defaultAnalysisRetries   = 3
	defaultSeverityThreshold = 6.0

	defaultBatchIntervalSeconds = 300

	defaultAlertRequestTimeout = 10

	defaultPollInterval        = 5
	defaultErrorRetryInterval  = 10
	defaultRescanInterval      = 30
	defaultArchiveScanInterval = 60
	defaultStatsInterval       = 300

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InboundDir:     defaultInboundDir,
			TranscriptsDir: defaultTranscriptsDir,
			ArchiveDir:     defaultArchiveDir,
			LogDir:         defaultLogDir,
		},
		Transcription: Transcription{
			Endpoint:       defaultTranscriptionEndpoint,
			Model:          defaultTranscriptionModel,
			TimeoutSeconds: defaultTranscriptionTimeout,
			Workers:        defaultTranscriptionWorkers,
			RetryLimit:     defaultTranscriptionRetries,
		},
		Analysis: Analysis{
			BaseURL:           defaultAnalysisBaseURL,
			Model:             defaultAnalysisModel,
			TimeoutSeconds:    defaultAnalysisTimeout,
			RetryLimit:        defaultAnalysisRetries,
			SeverityThreshold: defaultSeverityThreshold,
		},
		Batch: Batch{
			IntervalSeconds: defaultBatchIntervalSeconds,
		},
		Alerts: Alerts{
			RequestTimeout: defaultAlertRequestTimeout,
		},
		Pipeline: Pipeline{
			PollInterval:         defaultPollInterval,
			ErrorRetryInterval:   defaultErrorRetryInterval,
			RescanInterval:       defaultRescanInterval,
			ArchiveScanInterval:  defaultArchiveScanInterval,
			StatsIntervalSeconds: defaultStatsInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// BatchInterval returns the configured window duration.
func (c *Config) BatchInterval() time.Duration {
	return time.Duration(c.Batch.IntervalSeconds) * time.Second
}

// TranscriptionTimeout returns the per-call speech-to-text timeout.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

// AnalysisTimeout returns the per-call analysis timeout.
func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Analysis.TimeoutSeconds) * time.Second
}
