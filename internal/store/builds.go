package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartBuild records the start of a corpus build pass. An empty ID is
// assigned a fresh UUID; a zero StartedAt is set to now.
func (s *SQLiteStore) StartBuild(ctx context.Context, b *BuildRecord) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (id, genre, started_at) VALUES (?, ?, ?)`,
		b.ID, b.Genre, b.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording build start: %w", err)
	}
	return nil
}

// FinishBuild stores the final counters and stop reason of a build pass.
func (s *SQLiteStore) FinishBuild(ctx context.Context, b *BuildRecord) error {
	if b.FinishedAt == nil {
		now := time.Now().UTC()
		b.FinishedAt = &now
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE builds SET finished_at = ?, searched = ?, fetched = ?, accepted = ?,
		        failures = ?, stop_reason = ?
		 WHERE id = ?`,
		b.FinishedAt.Format(time.RFC3339Nano), b.Searched, b.Fetched, b.Accepted,
		b.Failures, b.StopReason, b.ID,
	)
	if err != nil {
		return fmt.Errorf("recording build finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("build %s not found", b.ID)
	}
	return nil
}

// ListBuilds returns the most recent builds first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, limit int) ([]*BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, genre, started_at, finished_at, searched, fetched, accepted, failures, stop_reason
		 FROM builds ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var out []*BuildRecord
	for rows.Next() {
		b := &BuildRecord{}
		var started string
		var finished sql.NullString
		if err := rows.Scan(&b.ID, &b.Genre, &started, &finished, &b.Searched,
			&b.Fetched, &b.Accepted, &b.Failures, &b.StopReason); err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			b.StartedAt = t
		}
		if finished.Valid {
			if t, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
				b.FinishedAt = &t
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
