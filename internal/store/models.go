package store

import (
	"strings"
	"time"
)

// Stage represents the lifecycle position of a recording.
type Stage string

const (
	StageArrived             Stage = "arrived"
	StageTranscribing        Stage = "transcribing"
	StageTranscribed         Stage = "transcribed"
	StageTranscriptionFailed Stage = "transcription_failed"
	StageBatched             Stage = "batched"
	StageAnalyzing           Stage = "analyzing"
	StageAnalyzed            Stage = "analyzed"
	StageAnalysisFailed      Stage = "analysis_failed"
	StageArchived            Stage = "archived"
)

var allStages = []Stage{
	StageArrived,
	StageTranscribing,
	StageTranscribed,
	StageTranscriptionFailed,
	StageBatched,
	StageAnalyzing,
	StageAnalyzed,
	StageAnalysisFailed,
	StageArchived,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

var processingStages = map[Stage]struct{}{
	StageTranscribing: {},
	StageAnalyzing:    {},
}

var terminalStages = map[Stage]struct{}{
	StageTranscriptionFailed: {},
	StageAnalysisFailed:      {},
	StageArchived:            {},
}

// failureTransition maps an in-progress stage to where a failed recording
// goes: back to its retry origin while under the retry limit, otherwise to
// its terminal-failed stage.
type failureTransition struct {
	retry    Stage
	terminal Stage
}

var failureTransitions = map[Stage]failureTransition{
	StageTranscribing: {retry: StageArrived, terminal: StageTranscriptionFailed},
	StageAnalyzing:    {retry: StageBatched, terminal: StageAnalysisFailed},
}

// Recording is one captured audio unit tracked through the pipeline.
type Recording struct {
	ID             string
	AudioPath      string
	TranscriptPath string
	Stage          Stage
	ArrivedAt      time.Time
	TranscribedAt  *time.Time
	WindowStart    *time.Time
	RetryCount     int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Verdict is the persisted result of analyzing one sealed batch.
type Verdict struct {
	ID           int64
	BatchID      string
	WindowStart  time.Time
	WindowEnd    time.Time
	Severity     float64
	Summary      string
	RecordingIDs []string
	CreatedAt    time.Time
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsProcessing reports whether the stage reflects an in-flight operation.
func (s Stage) IsProcessing() bool {
	_, ok := processingStages[s]
	return ok
}

// IsTerminal reports whether the stage ends a recording's lifecycle.
func (s Stage) IsTerminal() bool {
	_, ok := terminalStages[s]
	return ok
}

// IsProcessing reports whether the recording is mid-stage.
func (r Recording) IsProcessing() bool {
	return r.Stage.IsProcessing()
}
