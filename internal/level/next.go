package level

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/fluentkids/phonotrail/internal/content"
	"github.com/fluentkids/phonotrail/internal/progress"
)

// ProgressionConfidenceThreshold is the minimum analysis confidence for an
// attempt to advance the learner instead of remediating.
const ProgressionConfidenceThreshold = 0.75

// typeOrder is the in-tier progression: short to long utterances.
var typeOrder = []content.Type{content.TypeWord, content.TypePhrase, content.TypeSentence}

// Resolver computes adaptive next-level selection. Safe for concurrent use
// when the injected pick function is.
type Resolver struct {
	store    content.Store
	exercise string

	// fallbackID, when set, is the last-resort level offered when every
	// selection query failed.
	fallbackID string

	// pick selects an index in [0, n). Injected by tests; defaults to
	// uniform random, which keeps remediation from feeling repetitive.
	pick func(n int) int
}

// ResolverOption is a functional option for [NewResolver].
type ResolverOption func(*Resolver)

// WithFallbackLevel sets the level offered when selection is fully degraded.
func WithFallbackLevel(id string) ResolverOption {
	return func(r *Resolver) { r.fallbackID = id }
}

// NewResolver creates a Resolver reading content for the given exercise.
func NewResolver(store content.Store, exercise string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		exercise: exercise,
		pick:     rand.IntN,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Next selects the level to offer after a completed attempt.
//
// A confident three-star attempt advances: the next content type within the
// same tier among not-yet-completed levels; when the tier is exhausted, the
// first level of the next tier if its XP threshold is met, otherwise nil
// (the caller shows a locked state; nil with nil error is not a failure).
//
// Anything weaker remediates: a different level of the same tier and type,
// chosen at random, or the current level again when no sibling exists. A
// weak attempt never silently advances.
func (r *Resolver) Next(ctx context.Context, current Level, prog progress.UserProgress, confidence float64, stars int) (*Level, error) {
	if confidence >= ProgressionConfidenceThreshold && stars == 3 {
		next, err := r.advance(ctx, current, prog)
		if err != nil {
			return r.fallback(ctx, current, prog, err)
		}
		return next, nil
	}

	next, err := r.remediate(ctx, current)
	if err != nil {
		return r.fallback(ctx, current, prog, err)
	}
	return next, nil
}

// advance walks the in-tier type ordering after the current type, then the
// next tier's gate.
func (r *Resolver) advance(ctx context.Context, current Level, prog progress.UserProgress) (*Level, error) {
	start := typeIndex(current.Type) + 1
	for i := start; i < len(typeOrder); i++ {
		items, err := r.store.ByTierType(ctx, current.Tier, typeOrder[i], r.exercise)
		if err != nil {
			return nil, fmt.Errorf("level: advance query tier %d %s: %w", current.Tier, typeOrder[i], err)
		}
		for _, item := range items {
			if !prog.Completed(item.ID) {
				lv, err := Derive(item)
				if err != nil {
					return nil, err
				}
				return &lv, nil
			}
		}
	}

	// Tier exhausted: gate on the next tier's threshold.
	nextTier := current.Tier + 1
	if nextTier > content.MaxTier || prog.TotalXP < TierThreshold(nextTier) {
		return nil, nil // locked, not an error
	}
	items, err := r.store.ByTierType(ctx, nextTier, content.TypeWord, r.exercise)
	if err != nil {
		return nil, fmt.Errorf("level: advance query tier %d word: %w", nextTier, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	lv, err := Derive(items[0])
	if err != nil {
		return nil, err
	}
	return &lv, nil
}

// remediate picks a difficulty-matched sibling of the current level at
// random, or repeats the current level when none exists.
func (r *Resolver) remediate(ctx context.Context, current Level) (*Level, error) {
	items, err := r.store.ByTierType(ctx, current.Tier, current.Type, r.exercise)
	if err != nil {
		return nil, fmt.Errorf("level: remediate query tier %d %s: %w", current.Tier, current.Type, err)
	}

	candidates := items[:0:0]
	for _, item := range items {
		if item.ID != current.ID {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		repeat := current
		return &repeat, nil
	}
	lv, err := Derive(candidates[r.pick(len(candidates))])
	if err != nil {
		return nil, err
	}
	return &lv, nil
}

// fallback is the degraded path taken when a selection query failed: the
// first not-yet-completed level in the current tier's type ordering. Logged
// as degraded, never treated as a healthy selection.
func (r *Resolver) fallback(ctx context.Context, current Level, prog progress.UserProgress, cause error) (*Level, error) {
	slog.Warn("level selection degraded, falling back to first uncompleted",
		"tier", current.Tier, "error", cause)

	for _, typ := range typeOrder {
		items, err := r.store.ByTierType(ctx, current.Tier, typ, r.exercise)
		if err != nil {
			continue
		}
		for _, item := range items {
			if !prog.Completed(item.ID) {
				lv, derr := Derive(item)
				if derr != nil {
					continue
				}
				return &lv, nil
			}
		}
	}

	if r.fallbackID != "" {
		item, err := r.store.Item(ctx, r.fallbackID)
		if err == nil {
			if lv, derr := Derive(item); derr == nil {
				return &lv, nil
			}
		}
	}
	return nil, fmt.Errorf("level: no level available: %w", cause)
}

func typeIndex(t content.Type) int {
	for i, v := range typeOrder {
		if v == t {
			return i
		}
	}
	return len(typeOrder)
}
