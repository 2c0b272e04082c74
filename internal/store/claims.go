package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Claim atomically selects the oldest recording in the from stage and
// transitions it to the given in-progress stage. Returns nil when no
// recording is available. Concurrent claims resolve to exactly one winner
// per recording; losers move on to the next candidate.
func (s *Store) Claim(ctx context.Context, from, to Stage) (*Recording, error) {
	ctx = ensureContext(ctx)
	for {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT `+recordingColumns+` FROM recordings WHERE stage = ? ORDER BY arrived_at, id LIMIT 1`,
			from,
		)
		rec, err := scanRecording(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}

		now := time.Now().UTC()
		res, err := s.execWithRetry(
			ctx,
			`UPDATE recordings SET stage = ?, error_message = NULL, updated_at = ? WHERE id = ? AND stage = ?`,
			to,
			formatTime(now),
			rec.ID,
			from,
		)
		if err != nil {
			return nil, fmt.Errorf("claim recording: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 1 {
			rec.Stage = to
			rec.ErrorMessage = ""
			rec.UpdatedAt = now
			return rec, nil
		}
		// Lost the race for this recording; another worker claimed it first.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// Complete persists the recording's fields and transitions it from the
// expected in-progress stage to the next stage. Returns ErrInvalidTransition
// when the recording is no longer in the expected stage, which guards
// against double-completion.
func (s *Store) Complete(ctx context.Context, rec *Recording, from, to Stage) error {
	if rec == nil {
		return errors.New("recording is nil")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET stage = ?, transcript_path = ?, transcribed_at = ?, window_start = ?,
             retry_count = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND stage = ?`,
		to,
		nullableString(rec.TranscriptPath),
		nullableTime(rec.TranscribedAt),
		nullableTime(rec.WindowStart),
		rec.RetryCount,
		nullableString(rec.ErrorMessage),
		formatTime(now),
		rec.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("complete recording: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s is not in stage %s", ErrInvalidTransition, rec.ID, from)
	}
	rec.Stage = to
	rec.UpdatedAt = now
	return nil
}

// Fail records a failure for a recording in the given in-progress stage.
// Under the retry limit the recording returns to its retry origin with an
// incremented retry count; at or past the limit it lands in its
// terminal-failed stage. Returns the stage the recording moved to.
func (s *Store) Fail(ctx context.Context, rec *Recording, from Stage, cause error, retryLimit int) (Stage, error) {
	if rec == nil {
		return "", errors.New("recording is nil")
	}
	transition, ok := failureTransitions[from]
	if !ok {
		return "", fmt.Errorf("stage %s has no failure transition", from)
	}

	next := transition.retry
	retryCount := rec.RetryCount + 1
	if retryCount > retryLimit {
		next = transition.terminal
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}

	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET stage = ?, retry_count = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND stage = ?`,
		next,
		retryCount,
		nullableString(message),
		formatTime(now),
		rec.ID,
		from,
	)
	if err != nil {
		return "", fmt.Errorf("fail recording: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("fail rows affected: %w", err)
	}
	if affected == 0 {
		return "", fmt.Errorf("%w: %s is not in stage %s", ErrInvalidTransition, rec.ID, from)
	}
	rec.Stage = next
	rec.RetryCount = retryCount
	rec.ErrorMessage = message
	rec.UpdatedAt = now
	return next, nil
}

// AssignWindow transitions a transcribed recording to batched, recording the
// window it was assigned to. Returns ErrInvalidTransition when the recording
// already left the transcribed stage.
func (s *Store) AssignWindow(ctx context.Context, id string, windowStart time.Time) error {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings SET stage = ?, window_start = ?, updated_at = ? WHERE id = ? AND stage = ?`,
		StageBatched,
		formatTime(windowStart),
		formatTime(now),
		id,
		StageTranscribed,
	)
	if err != nil {
		return fmt.Errorf("assign window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign window rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s is not transcribed", ErrInvalidTransition, id)
	}
	return nil
}

// TransitionBatch moves a set of recordings from one stage to another and
// returns how many actually transitioned. Recordings no longer in the from
// stage are left untouched rather than treated as an error: the analysis
// worker tolerates individual recordings drifting (for example an operator
// retry) without failing the whole batch.
func (s *Store) TransitionBatch(ctx context.Context, ids []string, from, to Stage) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, to, formatTime(time.Now().UTC()))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, from)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings SET stage = ?, updated_at = ? WHERE id IN (`+placeholders+`) AND stage = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("transition batch: %w", err)
	}
	return res.RowsAffected()
}

// RecoverInFlight re-queues recordings that were mid-pipeline when the
// process stopped: transcribing goes back to arrived; batched and analyzing
// return to transcribed with their window assignment cleared, since open
// windows and sealed-batch ordering live in memory and are rebuilt on start.
func (s *Store) RecoverInFlight(ctx context.Context) (int64, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET stage = CASE stage
             WHEN ? THEN ?
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE stage
         END,
             window_start = NULL, updated_at = ?
         WHERE stage IN (?, ?, ?)`,
		StageTranscribing, StageArrived,
		StageBatched, StageTranscribed,
		StageAnalyzing, StageTranscribed,
		now,
		StageTranscribing,
		StageBatched,
		StageAnalyzing,
	)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight recordings: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed returns terminal-failed recordings to their retryable origin
// stages with retry counts reset: transcription failures to arrived,
// analysis failures to transcribed.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET stage = CASE stage
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE stage
         END,
             retry_count = 0, error_message = NULL, window_start = NULL, updated_at = ?
         WHERE stage IN (?, ?)`,
		StageTranscriptionFailed, StageArrived,
		StageAnalysisFailed, StageTranscribed,
		now,
		StageTranscriptionFailed,
		StageAnalysisFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed recordings: %w", err)
	}
	return res.RowsAffected()
}
