package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveVerdict persists the analysis result for one sealed batch.
func (s *Store) SaveVerdict(ctx context.Context, v *Verdict) error {
	if v == nil {
		return errors.New("verdict is nil")
	}
	idsJSON, err := json.Marshal(v.RecordingIDs)
	if err != nil {
		return fmt.Errorf("marshal recording ids: %w", err)
	}
	v.CreatedAt = time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO verdicts (batch_id, window_start, window_end, severity, summary, recording_ids, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.BatchID,
		formatTime(v.WindowStart),
		formatTime(v.WindowEnd),
		v.Severity,
		v.Summary,
		string(idsJSON),
		formatTime(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("verdict insert id: %w", err)
	}
	v.ID = id
	return nil
}

// ListVerdicts returns saved verdicts in window order, newest-window last.
func (s *Store) ListVerdicts(ctx context.Context, limit int) ([]*Verdict, error) {
	query := `SELECT id, batch_id, window_start, window_end, severity, summary, recording_ids, created_at
              FROM verdicts ORDER BY window_start, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []*Verdict
	for rows.Next() {
		var (
			v          Verdict
			windowRaw  string
			endRaw     string
			idsRaw     string
			createdRaw string
		)
		if err := rows.Scan(&v.ID, &v.BatchID, &windowRaw, &endRaw, &v.Severity, &v.Summary, &idsRaw, &createdRaw); err != nil {
			return nil, err
		}
		if start, err := parseTimeString(windowRaw); err == nil {
			v.WindowStart = start
		}
		if end, err := parseTimeString(endRaw); err == nil {
			v.WindowEnd = end
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			v.CreatedAt = created
		}
		if err := json.Unmarshal([]byte(idsRaw), &v.RecordingIDs); err != nil {
			return nil, fmt.Errorf("unmarshal recording ids: %w", err)
		}
		verdicts = append(verdicts, &v)
	}
	return verdicts, rows.Err()
}
