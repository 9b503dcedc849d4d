package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/storage"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queued_requests (
	id            INTEGER PRIMARY KEY,
	function_name TEXT    NOT NULL,
	payload       BLOB,
	enqueued_at   INTEGER NOT NULL,
	status        TEXT    NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT    NOT NULL DEFAULT '',
	dead          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queued_requests_dead ON queued_requests(dead, id);
`

// SQLiteStore persists the queue in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens path and creates the schema if needed.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating queue schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, function_name, payload, enqueued_at, status, attempts, last_error, dead
		FROM queued_requests ORDER BY id`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying queued requests: %w", err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var (
			r          Request
			payload    []byte
			enqueuedAt int64
			status     string
			dead       int64
		)
		if err := rows.Scan(&r.ID, &r.FunctionName, &payload, &enqueuedAt, &status, &r.Attempts, &r.LastError, &dead); err != nil {
			return Snapshot{}, fmt.Errorf("scanning queued request: %w", err)
		}
		r.Payload = payload
		r.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		r.Status = Status(status)
		if dead != 0 {
			snap.DeadLetters = append(snap.DeadLetters, r)
		} else {
			snap.Pending = append(snap.Pending, r)
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterating queued requests: %w", err)
	}
	return snap, nil
}

// Save replaces the stored rows with snap in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queued_requests`); err != nil {
		return fmt.Errorf("clearing queued requests: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO queued_requests (id, function_name, payload, enqueued_at, status, attempts, last_error, dead)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	insert := func(reqs []Request, dead int) error {
		for _, r := range reqs {
			if _, err := stmt.ExecContext(ctx,
				r.ID, r.FunctionName, []byte(r.Payload), r.EnqueuedAt.UnixMilli(),
				string(r.Status), r.Attempts, r.LastError, dead,
			); err != nil {
				return fmt.Errorf("inserting request %d: %w", r.ID, err)
			}
		}
		return nil
	}
	if err := insert(snap.Pending, 0); err != nil {
		return err
	}
	if err := insert(snap.DeadLetters, 1); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing queue snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
