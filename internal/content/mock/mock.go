// Package mock provides an in-memory content.Store test double.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluentkids/phonotrail/internal/content"
)

// Store is an in-memory [content.Store]. Items keep insertion order within
// each (tier, type) bucket. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	items []content.Item

	// Err, when non-nil, is returned by every query. Lets tests exercise
	// degraded paths.
	Err error
}

var _ content.Store = (*Store)(nil)

// Add appends items to the store.
func (s *Store) Add(items ...content.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
}

// Item implements [content.Store].
func (s *Store) Item(_ context.Context, id string) (content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return content.Item{}, s.Err
	}
	for _, it := range s.items {
		if it.ID == id {
			return it, nil
		}
	}
	return content.Item{}, fmt.Errorf("mock: content item %q not found", id)
}

// ByTierType implements [content.Store].
func (s *Store) ByTierType(_ context.Context, tier int, typ content.Type, exercise string) ([]content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []content.Item
	for _, it := range s.items {
		if it.Tier == tier && it.Type == typ && it.SupportsExercise(exercise) {
			out = append(out, it)
		}
	}
	return out, nil
}
