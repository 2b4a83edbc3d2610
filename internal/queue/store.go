// Package queue persists device-routed commands in SQLite so they survive
// restarts and offline stretches. Rows move pending -> syncing -> done, or
// back to pending on a failed delivery until the retry ceiling marks them
// failed for good.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Row statuses.
const (
	StatusPending = "pending"
	StatusSyncing = "syncing"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS command_queue (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    command_text  TEXT NOT NULL,
    command_type  TEXT NOT NULL DEFAULT 'device_routed',
    target_device TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    queued_at     TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    last_retry_at TEXT,
    last_error    TEXT,
    metadata      TEXT
);
CREATE INDEX IF NOT EXISTS idx_command_queue_status ON command_queue(status, queued_at);
`

// Command is one queued row.
type Command struct {
	ID           int64
	CommandText  string
	CommandType  string
	TargetDevice string
	Status       string
	RetryCount   int
	QueuedAt     time.Time
	UpdatedAt    time.Time
	LastRetryAt  time.Time // zero until the first failed delivery
	LastError    string
	Metadata     map[string]string
}

// TypeDeviceRouted is the only command type the router enqueues today.
const TypeDeviceRouted = "device_routed"

// Stats summarizes the queue by status.
type Stats struct {
	Pending    int
	Syncing    int
	Done       int
	Failed     int
	LastSynced time.Time // zero when nothing has been delivered yet
}

func (s Stats) Total() int { return s.Pending + s.Syncing + s.Done + s.Failed }

// Store is a SQLite-backed command queue.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the queue database at path. Use ":memory:" for
// an ephemeral queue.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Enqueue appends a pending command and returns its row id.
func (s *Store) Enqueue(commandText, commandType, targetDevice string, metadata map[string]string) (int64, error) {
	var metaJSON any
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("encode metadata: %w", err)
		}
		metaJSON = string(raw)
	}
	if commandType == "" {
		commandType = TypeDeviceRouted
	}
	ts := now()
	res, err := s.db.Exec(
		`INSERT INTO command_queue (command_text, command_type, target_device, status, queued_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		commandText, commandType, targetDevice, StatusPending, ts, ts, metaJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue command: %w", err)
	}
	return id, nil
}

// DequeuePending returns up to limit pending commands, oldest first.
func (s *Store) DequeuePending(limit int) ([]Command, error) {
	rows, err := s.db.Query(
		`SELECT id, command_text, command_type, target_device, status, retry_count, queued_at,
		        updated_at, COALESCE(last_retry_at, ''), COALESCE(last_error, ''), COALESCE(metadata, '')
		 FROM command_queue WHERE status = ? ORDER BY queued_at, id LIMIT ?`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue pending: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

// Get fetches one row by id.
func (s *Store) Get(id int64) (Command, error) {
	row := s.db.QueryRow(
		`SELECT id, command_text, command_type, target_device, status, retry_count, queued_at,
		        updated_at, COALESCE(last_retry_at, ''), COALESCE(last_error, ''), COALESCE(metadata, '')
		 FROM command_queue WHERE id = ?`, id)
	return scanCommand(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(r rowScanner) (Command, error) {
	var cmd Command
	var queuedAt, updatedAt, lastRetryAt, metaRaw string
	err := r.Scan(&cmd.ID, &cmd.CommandText, &cmd.CommandType, &cmd.TargetDevice, &cmd.Status,
		&cmd.RetryCount, &queuedAt, &updatedAt, &lastRetryAt, &cmd.LastError, &metaRaw)
	if err != nil {
		return Command{}, fmt.Errorf("scan queue row: %w", err)
	}
	if cmd.QueuedAt, err = time.Parse(time.RFC3339, queuedAt); err != nil {
		return Command{}, fmt.Errorf("parse queued_at: %w", err)
	}
	if cmd.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Command{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastRetryAt != "" {
		if cmd.LastRetryAt, err = time.Parse(time.RFC3339, lastRetryAt); err != nil {
			return Command{}, fmt.Errorf("parse last_retry_at: %w", err)
		}
	}
	if metaRaw != "" {
		if err := json.Unmarshal([]byte(metaRaw), &cmd.Metadata); err != nil {
			return Command{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return cmd, nil
}

// MarkSyncing transitions a pending row to syncing.
func (s *Store) MarkSyncing(id int64) error {
	return s.setStatus(id, StatusSyncing, "")
}

// MarkDone transitions a row to done after the remote acknowledged it.
func (s *Store) MarkDone(id int64) error {
	return s.setStatus(id, StatusDone, "")
}

// MarkFailed records a delivery failure. Below the retry ceiling the row
// returns to pending with its retry count bumped; with final set it is
// parked as failed and never retried again.
func (s *Store) MarkFailed(id int64, cause string, final bool) error {
	status := StatusPending
	if final {
		status = StatusFailed
	}
	ts := now()
	_, err := s.db.Exec(
		`UPDATE command_queue
		 SET status = ?, retry_count = retry_count + 1, last_error = ?, last_retry_at = ?, updated_at = ?
		 WHERE id = ?`,
		status, cause, ts, ts, id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *Store) setStatus(id int64, status, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE command_queue SET status = ?, last_error = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		status, lastError, now(), id,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// ResetStaleSyncing returns rows stuck in syncing longer than maxAge to
// pending. A crash mid-delivery leaves such rows behind; redelivery is safe
// because the row id is the idempotency key.
func (s *Store) ResetStaleSyncing(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	res, err := s.db.Exec(
		`UPDATE command_queue SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		StatusPending, now(), StatusSyncing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stale syncing: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts rows by status.
func (s *Store) Stats() (Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM command_queue GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		switch status {
		case StatusPending:
			stats.Pending = n
		case StatusSyncing:
			stats.Syncing = n
		case StatusDone:
			stats.Done = n
		case StatusFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	var lastSynced string
	err = s.db.QueryRow(
		`SELECT COALESCE(MAX(updated_at), '') FROM command_queue WHERE status = ?`,
		StatusDone,
	).Scan(&lastSynced)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	if lastSynced != "" {
		if stats.LastSynced, err = time.Parse(time.RFC3339, lastSynced); err != nil {
			return Stats{}, fmt.Errorf("parse last synced: %w", err)
		}
	}
	return stats, nil
}

// PruneDone deletes done rows older than retention. Failed rows are kept
// for inspection.
func (s *Store) PruneDone(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
	res, err := s.db.Exec(
		`DELETE FROM command_queue WHERE status = ? AND updated_at < ?`,
		StatusDone, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune done rows: %w", err)
	}
	return res.RowsAffected()
}
