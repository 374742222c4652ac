// Package progress defines the per-user aggregate progress record, the
// persisted attempt record, and the store contract both are written through.
//
// The aggregate record is the one resource in the system with a genuine
// concurrent-writer risk (two attempts completing in quick succession), so
// the store contract requires the attempt write and the aggregate update to
// happen in a single transactional read-modify-write.
package progress

import (
	"context"
	"time"

	"github.com/fluentkids/phonotrail/internal/game"
)

// UserProgress is the per-user aggregate. TotalXP and TotalGamesPlayed are
// monotonically non-decreasing outside of administrative correction; tiers
// are always derived from TotalXP, never stored independently of it.
type UserProgress struct {
	UserID           string
	TotalXP          int
	CurrentTier      int
	UnlockedTiers    []int
	CompletedLevels  []string
	TotalGamesPlayed int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Completed reports whether levelID is in the completed set. Insertion order
// of the set is irrelevant.
func (p UserProgress) Completed(levelID string) bool {
	for _, id := range p.CompletedLevels {
		if id == levelID {
			return true
		}
	}
	return false
}

// Attempt is the persisted record of one finished game attempt.
type Attempt struct {
	ID      string
	UserID  string
	LevelID string

	// Exercise names the mini-game ("snake", "turtle", ...).
	Exercise string

	Metrics game.Metrics

	// Stars is the final star rating after reconciliation (1 or 3 from the
	// authoritative judgment; the optimistic value when analysis never
	// arrived).
	Stars int

	// XPEarned is the reward credited to the aggregate for this attempt.
	XPEarned int

	// ClinicalPass, GamePass, Confidence, and Feedback mirror the analysis
	// result when one was available.
	ClinicalPass bool
	GamePass     bool
	Confidence   float64
	Feedback     string

	// Analyzed is false when the attempt was settled on the optimistic result
	// alone (upload exhausted and queued).
	Analyzed bool

	CreatedAt time.Time
}

// Store persists attempts and the per-user aggregate. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get returns the aggregate for userID, or a zero-valued (but usable)
	// record when the user has no progress yet.
	Get(ctx context.Context, userID string) (UserProgress, error)

	// RecordAttempt appends the attempt and atomically folds it into the
	// user's aggregate: add XPEarned, increment TotalGamesPlayed, mark the
	// level completed, and recompute tiers. Concurrent invocations for the
	// same user must not lose updates.
	RecordAttempt(ctx context.Context, att Attempt) (UserProgress, error)
}
