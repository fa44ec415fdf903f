package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/thisismudith/litscout/pkg/store"
)

// Store is the PostgreSQL + pgvector backing for [store.Store].
type Store struct {
	pool                *pgxpool.Pool
	embeddingDimensions int
}

var _ store.Store = (*Store)(nil)

// NewStore opens a connection pool against dsn and registers the pgvector
// codec on every new connection. embeddingDimensions fixes the width of the
// paper_embeddings/concept_embeddings vector columns created by Migrate; it
// must match the configured encoder's output dimension.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	return &Store{pool: pool, embeddingDimensions: embeddingDimensions}, nil
}

// Migrate creates or ensures every required table, extension, and index
// exists.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool, s.embeddingDimensions)
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the connection pool can reach the database, for use by
// readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
