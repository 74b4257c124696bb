package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medatlas/synchub/pkg/tracker"
)

// TaskStore persists terminal task snapshots so clients can query results
// after the tracker's in-memory retention window. Implements
// tracker.Archiver.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a task store on the client's connection pool.
func NewTaskStore(client *Client) *TaskStore {
	return &TaskStore{db: client.DB()}
}

// Archive upserts a snapshot. Re-archiving the same session (e.g. a sweep
// racing a terminal transition) is harmless and keeps the latest state.
func (s *TaskStore) Archive(ctx context.Context, snap tracker.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_archive (
			session_id, task_type, status, owner_user_id, project_id,
			params, progress, result, error, confidence,
			created_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
			status       = EXCLUDED.status,
			progress     = EXCLUDED.progress,
			result       = EXCLUDED.result,
			error        = EXCLUDED.error,
			confidence   = EXCLUDED.confidence,
			completed_at = EXCLUDED.completed_at,
			duration_ms  = EXCLUDED.duration_ms`,
		snap.SessionID, snap.Type, snap.Status, snap.OwnerUserID, snap.ProjectID,
		nullableJSON(snap.Params), snap.Progress, nullableJSON(snap.Result), snap.Error, snap.Confidence,
		snap.CreatedAt, snap.CompletedAt, snap.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to archive task %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load reads one archived snapshot. Returns tracker.ErrNotFound when the
// session was never archived.
func (s *TaskStore) Load(ctx context.Context, sessionID string) (tracker.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, task_type, status, owner_user_id, project_id,
		       params, progress, result, error, confidence,
		       created_at, completed_at, duration_ms
		FROM task_archive
		WHERE session_id = $1`, sessionID)

	var (
		snap        tracker.Snapshot
		params      []byte
		result      []byte
		confidence  sql.NullFloat64
		completedAt sql.NullTime
	)
	err := row.Scan(
		&snap.SessionID, &snap.Type, &snap.Status, &snap.OwnerUserID, &snap.ProjectID,
		&params, &snap.Progress, &result, &snap.Error, &confidence,
		&snap.CreatedAt, &completedAt, &snap.DurationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Snapshot{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("failed to load task %s: %w", sessionID, err)
	}

	snap.Params = params
	snap.Result = result
	if confidence.Valid {
		snap.Confidence = &confidence.Float64
	}
	if completedAt.Valid {
		t := completedAt.Time
		snap.CompletedAt = &t
	}
	return snap, nil
}

// ListByProject returns archived snapshots for one project, newest first.
func (s *TaskStore) ListByProject(ctx context.Context, projectID string, limit int) ([]tracker.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, task_type, status, owner_user_id, project_id,
		       params, progress, result, error, confidence,
		       created_at, completed_at, duration_ms
		FROM task_archive
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var snaps []tracker.Snapshot
	for rows.Next() {
		var (
			snap        tracker.Snapshot
			params      []byte
			result      []byte
			confidence  sql.NullFloat64
			completedAt sql.NullTime
		)
		if err := rows.Scan(
			&snap.SessionID, &snap.Type, &snap.Status, &snap.OwnerUserID, &snap.ProjectID,
			&params, &snap.Progress, &result, &snap.Error, &confidence,
			&snap.CreatedAt, &completedAt, &snap.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archived task: %w", err)
		}
		snap.Params = params
		snap.Result = result
		if confidence.Valid {
			snap.Confidence = &confidence.Float64
		}
		if completedAt.Valid {
			t := completedAt.Time
			snap.CompletedAt = &t
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// PurgeOlderThan deletes archived tasks completed before the cutoff.
// Returns the number of rows removed.
func (s *TaskStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_archive WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge task archive: %w", err)
	}
	return res.RowsAffected()
}

// nullableJSON maps empty raw JSON to SQL NULL so jsonb columns never hold
// empty strings.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
