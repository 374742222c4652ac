package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluentkids/phonotrail/internal/content"
)

// ErrNotFound is returned when a lookup by ID matches no row.
var ErrNotFound = errors.New("postgres: not found")

// ContentStore reads the authored practice catalogue from the content_items
// table.
//
// Obtain one via [Store.Content] rather than constructing directly.
// All methods are safe for concurrent use.
type ContentStore struct {
	pool *pgxpool.Pool
}

// Item implements [content.Store].
func (s *ContentStore) Item(ctx context.Context, id string) (content.Item, error) {
	const q = `
		SELECT id, text, phoneme, phoneme_code, tier, type, syllable_count, exercises
		FROM   content_items
		WHERE  id = $1`

	var it content.Item
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&it.ID,
		&it.Text,
		&it.Phoneme,
		&it.PhonemeCode,
		&it.Tier,
		&it.Type,
		&it.SyllableCount,
		&it.Exercises,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return content.Item{}, fmt.Errorf("content store: item %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return content.Item{}, fmt.Errorf("content store: item %q: %w", id, err)
	}
	return it, nil
}

// ByTierType implements [content.Store]. Results come back in authored
// (insertion) order.
func (s *ContentStore) ByTierType(ctx context.Context, tier int, typ content.Type, exercise string) ([]content.Item, error) {
	const q = `
		SELECT id, text, phoneme, phoneme_code, tier, type, syllable_count, exercises
		FROM   content_items
		WHERE  tier = $1
		  AND  type = $2
		  AND  $3 = ANY (exercises)
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, tier, string(typ), exercise)
	if err != nil {
		return nil, fmt.Errorf("content store: by tier %d type %s: %w", tier, typ, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (content.Item, error) {
		var it content.Item
		err := row.Scan(
			&it.ID,
			&it.Text,
			&it.Phoneme,
			&it.PhonemeCode,
			&it.Tier,
			&it.Type,
			&it.SyllableCount,
			&it.Exercises,
		)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("content store: scan rows: %w", err)
	}
	return items, nil
}

// Seed inserts items into the catalogue, skipping IDs that already exist.
// Intended for bootstrap and tests.
func (s *ContentStore) Seed(ctx context.Context, items []content.Item) error {
	const q = `
		INSERT INTO content_items
		    (id, text, phoneme, phoneme_code, tier, type, syllable_count, exercises)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	for _, it := range items {
		if _, err := s.pool.Exec(ctx, q,
			it.ID, it.Text, it.Phoneme, it.PhonemeCode,
			it.Tier, string(it.Type), it.SyllableCount, it.Exercises,
		); err != nil {
			return fmt.Errorf("content store: seed %q: %w", it.ID, err)
		}
	}
	return nil
}
