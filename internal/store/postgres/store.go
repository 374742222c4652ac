package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluentkids/phonotrail/internal/content"
	"github.com/fluentkids/phonotrail/internal/progress"
)

// Compile-time interface checks.
var (
	_ content.Store  = (*ContentStore)(nil)
	_ progress.Store = (*ProgressStore)(nil)
)

// Store is the central PostgreSQL-backed store for Phonotrail. It holds a
// single [pgxpool.Pool] and exposes the two persistence contracts:
//
//   - [Store.Content] returns a [ContentStore] implementing [content.Store]
//   - [Store.Progress] returns a [ProgressStore] implementing [progress.Store]
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	contents *ContentStore
	progress *ProgressStore
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		contents: &ContentStore{pool: pool},
		progress: &ProgressStore{pool: pool},
	}, nil
}

// Content returns the content catalogue implementation which satisfies
// [content.Store].
func (s *Store) Content() *ContentStore { return s.contents }

// Progress returns the attempt and aggregate implementation which satisfies
// [progress.Store].
func (s *Store) Progress() *ProgressStore { return s.progress }

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
