// Package db holds the gateway's Postgres access: the connection pool,
// tracked schema migrations and the datalists key/value table that stores
// the site secret.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// Pool bounds. The gateway reads one cached datalist key per process, so
// connections are mostly idle.
const (
	maxPoolConns = 8
	minPoolConns = 1
)

// NewPool opens a pgx pool for databaseURL and pings it once. The pool is
// closed again if the ping fails.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid DATABASE_URL: %w", logPrefix, err)
	}
	cfg.MaxConns = maxPoolConns
	cfg.MinConns = minPoolConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s - open pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - ping %s: %w", logPrefix, cfg.ConnConfig.Host, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to %s/%s (max %d conns)", logPrefix, cfg.ConnConfig.Host, cfg.ConnConfig.Database, cfg.MaxConns))
	return pool, nil
}
