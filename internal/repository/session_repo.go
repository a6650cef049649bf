package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

const selectColumns = `
	SELECT id, session_key, server, namespace, status, command_count, last_command,
		protocol_version, remote_version, log_file_path, error, created_at, updated_at
	FROM sessions
`

// SessionRepository provides data access for session history.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, rec *model.SessionRecord) error {
	query := `
		INSERT INTO sessions (id, session_key, server, namespace, status, command_count, last_command,
			protocol_version, remote_version, log_file_path, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Key,
		rec.Server,
		rec.Namespace,
		rec.Status,
		rec.CommandCount,
		rec.LastCommand,
		rec.ProtocolVersion,
		rec.RemoteVersion,
		rec.LogFilePath,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.Key,
		&rec.Server,
		&rec.Namespace,
		&rec.Status,
		&rec.CommandCount,
		&rec.LastCommand,
		&rec.ProtocolVersion,
		&rec.RemoteVersion,
		&rec.LogFilePath,
		&rec.Error,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

// GetByID retrieves a session record by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

// List retrieves the most recent session records, newest first. A
// non-positive limit returns all records.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	query := selectColumns + ` ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// ListByKey retrieves the session records for one server and namespace,
// newest first.
func (r *SessionRepository) ListByKey(ctx context.Context, key string) ([]*model.SessionRecord, error) {
	return r.list(ctx, selectColumns+` WHERE session_key = ? ORDER BY created_at DESC`, key)
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]*model.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	records := []*model.SessionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return records, nil
}

// Delete removes a session record.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "delete session", `DELETE FROM sessions WHERE id = ?`, id)
}

// UpdateStatus sets the status of a session and the error it ended with.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, errMsg string) error {
	return r.exec(ctx, "update session status",
		`UPDATE sessions SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now(), id)
}

// RecordInit stores the versions announced by the evaluator.
func (r *SessionRepository) RecordInit(ctx context.Context, id string, protocolVersion int, remoteVersion string) error {
	return r.exec(ctx, "record init",
		`UPDATE sessions SET protocol_version = ?, remote_version = ?, updated_at = ? WHERE id = ?`,
		protocolVersion, remoteVersion, time.Now(), id)
}

// RecordCommand counts a submitted command and remembers it.
func (r *SessionRepository) RecordCommand(ctx context.Context, id string, command string) error {
	return r.exec(ctx, "record command",
		`UPDATE sessions SET command_count = command_count + 1, last_command = ?, updated_at = ? WHERE id = ?`,
		command, time.Now(), id)
}

// CloseStale marks records left open by a previous process as closed and
// returns how many were updated.
func (r *SessionRepository) CloseStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error = ?, updated_at = ? WHERE status = ?`,
		model.SessionStatusClosed, "bridge restarted", time.Now(), model.SessionStatusOpen)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return result.RowsAffected()
}

func (r *SessionRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}
