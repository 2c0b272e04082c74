package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"echowatch/internal/config"
)

// Store manages recording persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the stage database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "echowatch.db"))
}

// OpenPath opens the stage database at an explicit location. Pragmas ride the
// DSN so that every connection in database/sql's pool gets them; applying them
// with db.Exec would configure only whichever connection ran the statement.
func OpenPath(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Register inserts a new recording at its current stage. Returns ErrDuplicate
// when the identifier is already known.
func (s *Store) Register(ctx context.Context, rec *Recording) error {
	if rec == nil {
		return errors.New("recording is nil")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("recording ID is required")
	}
	if rec.Stage == "" {
		rec.Stage = StageArrived
	}
	now := time.Now().UTC()
	if rec.ArrivedAt.IsZero() {
		rec.ArrivedAt = now
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO recordings (
            id, audio_path, transcript_path, stage, arrived_at, transcribed_at,
            window_start, retry_count, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.AudioPath,
		nullableString(rec.TranscriptPath),
		rec.Stage,
		formatTime(rec.ArrivedAt),
		nullableTime(rec.TranscribedAt),
		nullableTime(rec.WindowStart),
		rec.RetryCount,
		nullableString(rec.ErrorMessage),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
		}
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// RegisterIfNew registers the recording unless its identifier is already
// known. Returns true when a new row was created. This is the idempotent
// path the watcher uses when re-observing the inbound directory.
func (s *Store) RegisterIfNew(ctx context.Context, rec *Recording) (bool, error) {
	err := s.Register(ctx, rec)
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID fetches a recording by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// ListByStage returns recordings in a stage ordered by arrival time.
func (s *Store) ListByStage(ctx context.Context, stage Stage) ([]*Recording, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE stage = ? ORDER BY arrived_at, id`,
		stage,
	)
	if err != nil {
		return nil, fmt.Errorf("query by stage: %w", err)
	}
	defer rows.Close()
	return collectRecordings(rows)
}

// NextForStage returns the oldest recording in a stage without claiming it,
// or nil when the stage is empty.
func (s *Store) NextForStage(ctx context.Context, stage Stage) (*Recording, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE stage = ? ORDER BY arrived_at, id LIMIT 1`,
		stage,
	)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next for stage: %w", err)
	}
	return rec, nil
}

// ListTranscribed returns transcribed recordings ordered by transcript
// completion time, the order the window manager assigns them in.
func (s *Store) ListTranscribed(ctx context.Context) ([]*Recording, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE stage = ? ORDER BY transcribed_at, id`,
		StageTranscribed,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcribed: %w", err)
	}
	defer rows.Close()
	return collectRecordings(rows)
}

// List returns recordings filtered by stage set (or all recordings when no
// stage is provided), ordered by arrival time.
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Recording, error) {
	baseQuery := `SELECT ` + recordingColumns + ` FROM recordings`
	orderClause := ` ORDER BY arrived_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE stage IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	return collectRecordings(rows)
}

// Update persists changes to an existing recording without a stage check.
// Stage transitions must go through Claim, Complete, or Fail.
func (s *Store) Update(ctx context.Context, rec *Recording) error {
	if rec == nil {
		return errors.New("recording is nil")
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE recordings
         SET audio_path = ?, transcript_path = ?, stage = ?, arrived_at = ?,
             transcribed_at = ?, window_start = ?, retry_count = ?,
             error_message = ?, updated_at = ?
         WHERE id = ?`,
		rec.AudioPath,
		nullableString(rec.TranscriptPath),
		rec.Stage,
		formatTime(rec.ArrivedAt),
		nullableTime(rec.TranscribedAt),
		nullableTime(rec.WindowStart),
		rec.RetryCount,
		nullableString(rec.ErrorMessage),
		formatTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	return nil
}

// Stats returns a count of recordings grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM recordings GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("recording stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

// ClearArchived removes archived recordings from the database.
func (s *Store) ClearArchived(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM recordings WHERE stage = ?`, StageArchived)
	if err != nil {
		return 0, fmt.Errorf("clear archived: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all recordings from the database.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM recordings`)
	if err != nil {
		return 0, fmt.Errorf("clear recordings: %w", err)
	}
	return res.RowsAffected()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const recordingColumns = "id, audio_path, transcript_path, stage, arrived_at, transcribed_at, window_start, retry_count, error_message, created_at, updated_at"

func scanRecording(scanner interface{ Scan(dest ...any) error }) (*Recording, error) {
	var (
		id             string
		audioPath      string
		transcriptPath sql.NullString
		stageStr       string
		arrivedRaw     string
		transcribedRaw sql.NullString
		windowRaw      sql.NullString
		retryCount     int
		errorMessage   sql.NullString
		createdRaw     string
		updatedRaw     string
	)

	if err := scanner.Scan(
		&id,
		&audioPath,
		&transcriptPath,
		&stageStr,
		&arrivedRaw,
		&transcribedRaw,
		&windowRaw,
		&retryCount,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Recording{
		ID:             id,
		AudioPath:      audioPath,
		TranscriptPath: transcriptPath.String,
		Stage:          Stage(stageStr),
		RetryCount:     retryCount,
		ErrorMessage:   errorMessage.String,
	}
	if arrived, err := parseTimeString(arrivedRaw); err == nil {
		rec.ArrivedAt = arrived
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	if transcribedRaw.Valid {
		if transcribed, err := parseTimeString(transcribedRaw.String); err == nil {
			rec.TranscribedAt = &transcribed
		}
	}
	if windowRaw.Valid {
		if window, err := parseTimeString(windowRaw.String); err == nil {
			rec.WindowStart = &window
		}
	}
	return rec, nil
}

func collectRecordings(rows *sql.Rows) ([]*Recording, error) {
	var recs []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
