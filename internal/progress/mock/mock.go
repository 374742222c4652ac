// Package mock provides an in-memory progress.Store test double with the
// same atomicity guarantees the PostgreSQL implementation gives: attempt
// writes fold into the aggregate under a per-store lock, so concurrent
// completions never lose updates.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/fluentkids/phonotrail/internal/level"
	"github.com/fluentkids/phonotrail/internal/progress"
)

// Store is an in-memory [progress.Store]. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	users    map[string]progress.UserProgress
	attempts []progress.Attempt

	// Err, when non-nil, is returned by every call.
	Err error
}

var _ progress.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{users: make(map[string]progress.UserProgress)}
}

// Get implements [progress.Store].
func (s *Store) Get(_ context.Context, userID string) (progress.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return progress.UserProgress{}, s.Err
	}
	if p, ok := s.users[userID]; ok {
		return p, nil
	}
	return progress.UserProgress{UserID: userID, CurrentTier: 1, UnlockedTiers: []int{1}}, nil
}

// RecordAttempt implements [progress.Store].
func (s *Store) RecordAttempt(_ context.Context, att progress.Attempt) (progress.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return progress.UserProgress{}, s.Err
	}

	p, ok := s.users[att.UserID]
	if !ok {
		p = progress.UserProgress{UserID: att.UserID, CreatedAt: time.Now().UTC()}
	}
	p.TotalXP += att.XPEarned
	p.TotalGamesPlayed++
	if !p.Completed(att.LevelID) {
		p.CompletedLevels = append(p.CompletedLevels, att.LevelID)
	}
	p.CurrentTier = level.TierForXP(p.TotalXP)
	p.UnlockedTiers = level.UnlockedTiers(p.TotalXP)
	p.UpdatedAt = time.Now().UTC()

	s.users[att.UserID] = p
	s.attempts = append(s.attempts, att)
	return p, nil
}

// Attempts returns a copy of all recorded attempts.
func (s *Store) Attempts() []progress.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Attempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}
