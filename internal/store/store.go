package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool

	// defaultRubricID, when non-zero, pins the practice-session rubric
	// instead of the is_default flag.
	defaultRubricID int64
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SetDefaultRubricID pins the rubric used for sessions with no assignment.
// Zero restores flag-based resolution.
func (s *Store) SetDefaultRubricID(id int64) {
	s.defaultRubricID = id
}

func (s *Store) Close() {
	s.pool.Close()
}
