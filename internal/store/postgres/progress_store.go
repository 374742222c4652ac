package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluentkids/phonotrail/internal/level"
	"github.com/fluentkids/phonotrail/internal/progress"
)

// ProgressStore persists attempts and the per-user aggregate in the attempts
// and user_progress tables.
//
// Obtain one via [Store.Progress] rather than constructing directly.
// All methods are safe for concurrent use.
type ProgressStore struct {
	pool *pgxpool.Pool
}

// Get implements [progress.Store]. A user without a row yet gets a usable
// zero-valued aggregate, not an error.
func (s *ProgressStore) Get(ctx context.Context, userID string) (progress.UserProgress, error) {
	const q = `
		SELECT user_id, total_xp, total_games_played, completed_levels, created_at, updated_at
		FROM   user_progress
		WHERE  user_id = $1`

	p, err := scanProgress(s.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return progress.UserProgress{
			UserID:        userID,
			CurrentTier:   1,
			UnlockedTiers: []int{1},
		}, nil
	}
	if err != nil {
		return progress.UserProgress{}, fmt.Errorf("progress store: get %q: %w", userID, err)
	}
	return p, nil
}

// RecordAttempt implements [progress.Store]. The attempt insert and the
// aggregate update run in one transaction with the user_progress row locked
// FOR UPDATE, so two completions for the same user serialise instead of
// losing an update.
func (s *ProgressStore) RecordAttempt(ctx context.Context, att progress.Attempt) (progress.UserProgress, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return progress.UserProgress{}, fmt.Errorf("progress store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertAttempt = `
		INSERT INTO attempts
		    (id, user_id, level_id, exercise,
		     duration_achieved, target_duration, completion_percent,
		     pause_count, total_pause_duration,
		     stars, xp_earned, clinical_pass, game_pass, confidence, feedback, analyzed,
		     created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	createdAt := att.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, insertAttempt,
		att.ID, att.UserID, att.LevelID, att.Exercise,
		att.Metrics.DurationAchieved, att.Metrics.TargetDuration, att.Metrics.CompletionPercent,
		att.Metrics.PauseCount, att.Metrics.TotalPauseDuration,
		att.Stars, att.XPEarned, att.ClinicalPass, att.GamePass, att.Confidence, att.Feedback, att.Analyzed,
		createdAt,
	); err != nil {
		return progress.UserProgress{}, fmt.Errorf("progress store: insert attempt: %w", err)
	}

	// Ensure the aggregate row exists, then lock it for the read-modify-write.
	const ensureRow = `
		INSERT INTO user_progress (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := tx.Exec(ctx, ensureRow, att.UserID); err != nil {
		return progress.UserProgress{}, fmt.Errorf("progress store: ensure aggregate: %w", err)
	}

	const lockRow = `
		SELECT user_id, total_xp, total_games_played, completed_levels, created_at, updated_at
		FROM   user_progress
		WHERE  user_id = $1
		FOR UPDATE`
	p, err := scanProgress(tx.QueryRow(ctx, lockRow, att.UserID))
	if err != nil {
		return progress.UserProgress{}, fmt.Errorf("progress store: lock aggregate: %w", err)
	}

	p.TotalXP += att.XPEarned
	p.TotalGamesPlayed++
	if !p.Completed(att.LevelID) {
		p.CompletedLevels = append(p.CompletedLevels, att.LevelID)
	}
	p.CurrentTier = level.TierForXP(p.TotalXP)
	p.UnlockedTiers = level.UnlockedTiers(p.TotalXP)
	p.UpdatedAt = time.Now().UTC()

	const updateRow = `
		UPDATE user_progress
		SET    total_xp = $2, total_games_played = $3, completed_levels = $4, updated_at = $5
		WHERE  user_id = $1`
	if _, err := tx.Exec(ctx, updateRow,
		p.UserID, p.TotalXP, p.TotalGamesPlayed, p.CompletedLevels, p.UpdatedAt,
	); err != nil {
		return progress.UserProgress{}, fmt.Errorf("progress store: update aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return progress.UserProgress{}, fmt.Errorf("progress store: commit: %w", err)
	}
	return p, nil
}

// Attempts returns the attempt history for userID, newest first, capped at
// limit (0 means no cap).
func (s *ProgressStore) Attempts(ctx context.Context, userID string, limit int) ([]progress.Attempt, error) {
	q := `
		SELECT id, user_id, level_id, exercise,
		       duration_achieved, target_duration, completion_percent,
		       pause_count, total_pause_duration,
		       stars, xp_earned, clinical_pass, game_pass, confidence, feedback, analyzed,
		       created_at
		FROM   attempts
		WHERE  user_id = $1
		ORDER  BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("progress store: attempts: %w", err)
	}
	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.Attempt, error) {
		var a progress.Attempt
		err := row.Scan(
			&a.ID, &a.UserID, &a.LevelID, &a.Exercise,
			&a.Metrics.DurationAchieved, &a.Metrics.TargetDuration, &a.Metrics.CompletionPercent,
			&a.Metrics.PauseCount, &a.Metrics.TotalPauseDuration,
			&a.Stars, &a.XPEarned, &a.ClinicalPass, &a.GamePass, &a.Confidence, &a.Feedback, &a.Analyzed,
			&a.CreatedAt,
		)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("progress store: scan attempts: %w", err)
	}
	return attempts, nil
}

// scanProgress scans one user_progress row and derives the tier fields from
// total XP.
func scanProgress(row pgx.Row) (progress.UserProgress, error) {
	var p progress.UserProgress
	if err := row.Scan(
		&p.UserID,
		&p.TotalXP,
		&p.TotalGamesPlayed,
		&p.CompletedLevels,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return progress.UserProgress{}, err
	}
	p.CurrentTier = level.TierForXP(p.TotalXP)
	p.UnlockedTiers = level.UnlockedTiers(p.TotalXP)
	return p, nil
}
