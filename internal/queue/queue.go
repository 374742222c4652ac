// Package queue implements the durable offline attempt queue. Attempts whose
// analysis upload exhausted its retries are appended here and replayed later;
// the records survive process restarts, so a session played in a tunnel is
// still judged once the device is back online.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/fluentkids/phonotrail/internal/game"
)

// Eviction policy for queued attempts.
const (
	// MaxAge drops attempts older than a week: a stale recording no longer
	// matters to the learner's progression.
	MaxAge = 7 * 24 * time.Hour

	// MaxRetries drops attempts after this many failed replays.
	MaxRetries = 5
)

// Attempt is one queued upload with everything a replay needs to re-invoke
// the normal upload-and-reconcile path.
type Attempt struct {
	ID       string
	UserID   string
	LevelID  string
	Exercise string

	// Audio is the WAV-encoded recording.
	Audio []byte

	Metrics game.Metrics

	// Phoneme is the prompt's target phoneme.
	Phoneme string

	// BaseXP is the level's base reward, captured so replay does not depend
	// on a content lookup.
	BaseXP int

	QueuedAt   time.Time
	RetryCount int
}

// Store persists queued attempts in a local SQLite database. Safe for
// concurrent use; SQLite serialises the writes.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the queue database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("queue: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %q: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS queued_attempts (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	level_id    TEXT NOT NULL,
	exercise    TEXT NOT NULL,
	audio       BLOB NOT NULL,
	metrics     TEXT NOT NULL,
	phoneme     TEXT NOT NULL,
	base_xp     INTEGER NOT NULL,
	queued_at   TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);`)
	if err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

// Append adds an attempt to the queue.
func (s *Store) Append(ctx context.Context, att Attempt) error {
	metrics, err := json.Marshal(att.Metrics)
	if err != nil {
		return fmt.Errorf("queue: marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO queued_attempts
	(id, user_id, level_id, exercise, audio, metrics, phoneme, base_xp, queued_at, retry_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, att.UserID, att.LevelID, att.Exercise, att.Audio,
		string(metrics), att.Phoneme, att.BaseXP,
		att.QueuedAt.UTC().Format(time.RFC3339Nano), att.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("queue: append %s: %w", att.ID, err)
	}
	return nil
}

// List returns all queued attempts, oldest first.
func (s *Store) List(ctx context.Context) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, level_id, exercise, audio, metrics, phoneme, base_xp, queued_at, retry_count
FROM queued_attempts ORDER BY queued_at`)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var att Attempt
		var metrics, queuedAt string
		if err := rows.Scan(&att.ID, &att.UserID, &att.LevelID, &att.Exercise,
			&att.Audio, &metrics, &att.Phoneme, &att.BaseXP, &queuedAt, &att.RetryCount); err != nil {
			return nil, fmt.Errorf("queue: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &att.Metrics); err != nil {
			return nil, fmt.Errorf("queue: unmarshal metrics for %s: %w", att.ID, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, queuedAt)
		if err != nil {
			return nil, fmt.Errorf("queue: parse queued_at for %s: %w", att.ID, err)
		}
		att.QueuedAt = ts
		out = append(out, att)
	}
	return out, rows.Err()
}

// Remove deletes an attempt, typically after a successful replay.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queued_attempts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue: remove %s: %w", id, err)
	}
	return nil
}

// IncrementRetry bumps an attempt's retry counter after a failed replay.
func (s *Store) IncrementRetry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE queued_attempts SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue: increment retry %s: %w", id, err)
	}
	return nil
}

// Len returns the number of queued attempts.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_attempts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return n, nil
}

// Stale reports whether an attempt should be evicted instead of replayed.
func (a Attempt) Stale(now time.Time) bool {
	return now.Sub(a.QueuedAt) > MaxAge || a.RetryCount >= MaxRetries
}
