// Package postgres provides the PostgreSQL-backed implementations of the
// [content.Store] and [progress.Store] contracts, sharing one
// [pgxpool.Pool] connection pool.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	items, _ := store.Content().ByTierType(ctx, 1, content.TypeWord, "snake")
//	prog, _ := store.Progress().RecordAttempt(ctx, att)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlContentItems = `
CREATE TABLE IF NOT EXISTS content_items (
    seq            BIGSERIAL    PRIMARY KEY,
    id             TEXT         NOT NULL UNIQUE,
    text           TEXT         NOT NULL,
    phoneme        TEXT         NOT NULL,
    phoneme_code   TEXT         NOT NULL DEFAULT '',
    tier           INT          NOT NULL,
    type           TEXT         NOT NULL,
    syllable_count INT          NOT NULL DEFAULT 1,
    exercises      TEXT[]       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_content_tier_type
    ON content_items (tier, type);
`

const ddlUserProgress = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id            TEXT         PRIMARY KEY,
    total_xp           INT          NOT NULL DEFAULT 0,
    total_games_played INT          NOT NULL DEFAULT 0,
    completed_levels   TEXT[]       NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlAttempts = `
CREATE TABLE IF NOT EXISTS attempts (
    id                   TEXT         PRIMARY KEY,
    user_id              TEXT         NOT NULL,
    level_id             TEXT         NOT NULL,
    exercise             TEXT         NOT NULL,
    duration_achieved    DOUBLE PRECISION NOT NULL,
    target_duration      DOUBLE PRECISION NOT NULL,
    completion_percent   DOUBLE PRECISION NOT NULL,
    pause_count          INT          NOT NULL DEFAULT 0,
    total_pause_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
    stars                INT          NOT NULL,
    xp_earned            INT          NOT NULL,
    clinical_pass        BOOLEAN      NOT NULL DEFAULT FALSE,
    game_pass            BOOLEAN      NOT NULL DEFAULT FALSE,
    confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
    feedback             TEXT         NOT NULL DEFAULT '',
    analyzed             BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_attempts_user
    ON attempts (user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_attempts_level
    ON attempts (level_id);
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlContentItems,
		ddlUserProgress,
		ddlAttempts,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
