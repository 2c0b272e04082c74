// Package pipeline wires the stages together: ingestion, transcription,
// windowing, analysis, and archival run as goroutines under one manager with
// shared lifecycle and a periodic stats report.
package pipeline
