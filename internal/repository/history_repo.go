// Package repository persists session and one-shot execution history for
// diagnostics.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rudeworld/omnicon-web/internal/model"
)

// HistoryRepository provides data access for terminal history. The
// SessionStarted/SessionClosed/ExecFinished entry points are best-effort
// and satisfy the interfaces the session registry and exec handler
// expect: failures are logged, never propagated into the serving path.
type HistoryRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *sql.DB, log *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, log: log}
}

// SessionStarted records a freshly created session.
func (r *HistoryRepository) SessionStarted(rec model.SessionRecord) {
	if err := r.insertSession(context.Background(), rec); err != nil {
		r.log.Warn("failed to persist session start", zap.String("session_id", rec.ID), zap.Error(err))
	}
}

// SessionClosed records the outcome of a closed session.
func (r *HistoryRepository) SessionClosed(id string, reason model.CloseReason, exitCode int, closedAt time.Time) {
	if err := r.closeSession(context.Background(), id, reason, exitCode, closedAt); err != nil {
		r.log.Warn("failed to persist session close", zap.String("session_id", id), zap.Error(err))
	}
}

// ExecFinished records a completed one-shot execution.
func (r *HistoryRepository) ExecFinished(rec model.ExecRecord) {
	if err := r.insertExec(context.Background(), rec); err != nil {
		r.log.Warn("failed to persist exec run", zap.Error(err))
	}
}

func (r *HistoryRepository) insertSession(ctx context.Context, rec model.SessionRecord) error {
	query := `
		INSERT INTO sessions (id, shell, pid, rows, cols, recording_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Shell,
		rec.PID,
		rec.Rows,
		rec.Cols,
		rec.RecordingPath,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *HistoryRepository) closeSession(ctx context.Context, id string, reason model.CloseReason, exitCode int, closedAt time.Time) error {
	query := `
		UPDATE sessions
		SET close_reason = ?, exit_code = ?, closed_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, string(reason), exitCode, closedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no session row for %s", id)
	}
	return nil
}

func (r *HistoryRepository) insertExec(ctx context.Context, rec model.ExecRecord) error {
	query := `
		INSERT INTO exec_runs (command, exit_code, timed_out, truncated, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.Command,
		rec.ExitCode,
		rec.TimedOut,
		rec.Truncated,
		rec.Duration.Milliseconds(),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exec run: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit session records, newest first.
func (r *HistoryRepository) RecentSessions(ctx context.Context, limit int) ([]model.SessionRecord, error) {
	query := `
		SELECT id, shell, pid, rows, cols, recording_path, close_reason, exit_code, created_at, closed_at
		FROM sessions
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		var recordingPath, closeReason sql.NullString
		var exitCode sql.NullInt64
		var closedAt sql.NullTime

		err := rows.Scan(
			&rec.ID,
			&rec.Shell,
			&rec.PID,
			&rec.Rows,
			&rec.Cols,
			&recordingPath,
			&closeReason,
			&exitCode,
			&rec.CreatedAt,
			&closedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		rec.RecordingPath = recordingPath.String
		rec.CloseReason = model.CloseReason(closeReason.String)
		if exitCode.Valid {
			rec.ExitCode = int(exitCode.Int64)
		}
		if closedAt.Valid {
			rec.ClosedAt = closedAt.Time
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return records, nil
}

// RecordingPathByID returns the cast file path recorded for a session,
// or "" when the session is unknown or was not recorded.
func (r *HistoryRepository) RecordingPathByID(ctx context.Context, id string) (string, error) {
	query := `SELECT recording_path FROM sessions WHERE id = ?`

	var path sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up recording: %w", err)
	}
	return path.String, nil
}

// RecentExecRuns returns up to limit exec records, newest first.
func (r *HistoryRepository) RecentExecRuns(ctx context.Context, limit int) ([]model.ExecRecord, error) {
	query := `
		SELECT command, exit_code, timed_out, truncated, duration_ms, created_at
		FROM exec_runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exec runs: %w", err)
	}
	defer rows.Close()

	var records []model.ExecRecord
	for rows.Next() {
		var rec model.ExecRecord
		var durationMS int64

		err := rows.Scan(
			&rec.Command,
			&rec.ExitCode,
			&rec.TimedOut,
			&rec.Truncated,
			&durationMS,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exec run: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exec runs: %w", err)
	}

	return records, nil
}
