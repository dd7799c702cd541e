// Package store is Pulse's only Postgres-facing package. It wraps
// pgx/v5 and pgxpool for pooled access plus a dedicated single connection
// for LISTEN/NOTIFY (spec.md §5/§9: the listener must bypass any
// transaction-pooling proxy). All SQL lives here; no other package issues
// queries directly.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool. It sets no server-side statement_timeout on
// its connections; WithStatementTimeout gives a 30s context deadline
// instead, and no query path in this package applies it.
type Pool struct {
	*pgxpool.Pool
}

// Open creates a pooled connection to databaseURL.
func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// WithStatementTimeout returns a context-scoped query timeout suitable for
// health-sensitive read paths.
func WithStatementTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 30*time.Second)
}
