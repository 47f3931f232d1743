package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite is a Store backed by the session_storage table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite returns a SQLite store using db.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, sessionID, key string) (Entry, error) {
	var (
		e         Entry
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value, version, updated_at
		FROM session_storage
		WHERE session_id = ? AND key = ?
	`, sessionID, key).Scan(&e.Value, &e.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("query session storage: %w", err)
	}

	e.UpdatedAt = time.UnixMilli(updatedAt)
	return e, nil
}

// Put implements Store. Each branch is a single statement so the version check
// and the write are atomic.
func (s *SQLite) Put(ctx context.Context, sessionID, key string, value []byte, expectedVersion int64) (int64, error) {
	now := s.now().UnixMilli()

	var row *sql.Row
	switch {
	case expectedVersion == AnyVersion:
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO session_storage (session_id, key, value, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (session_id, key) DO UPDATE
			SET
				value = excluded.value,
				version = session_storage.version + 1,
				updated_at = excluded.updated_at
			RETURNING version
		`, sessionID, key, value, now)
	case expectedVersion == 0:
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO session_storage (session_id, key, value, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (session_id, key) DO NOTHING
			RETURNING version
		`, sessionID, key, value, now)
	default:
		row = s.db.QueryRowContext(ctx, `
			UPDATE session_storage
			SET
				value = ?,
				version = version + 1,
				updated_at = ?
			WHERE session_id = ? AND key = ? AND version = ?
			RETURNING version
		`, value, now, sessionID, key, expectedVersion)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("write session storage: %w", err)
	}
	return version, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, sessionID, key string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM session_storage
		WHERE session_id = ? AND key = ?
	`, sessionID, key); err != nil {
		return fmt.Errorf("delete session storage: %w", err)
	}
	return nil
}

// PurgeBefore removes documents not updated since cutoff and returns how many were removed.
func (s *SQLite) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM session_storage
		WHERE updated_at < ?
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge session storage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge session storage: %w", err)
	}
	return affected, nil
}
