package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Repository provides access to the datalists table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetDatalist returns the entry stored under name, or nil when absent.
func (r *Repository) GetDatalist(ctx context.Context, name string) (*DatalistEntry, error) {
	slog.Debug(fmt.Sprintf("%s - GetDatalist name=%s", repoLogPrefix, name))

	var e DatalistEntry
	err := r.pool.QueryRow(ctx,
		`SELECT name, value, modified FROM datalists WHERE name = $1 LIMIT 1`, name,
	).Scan(&e.Name, &e.Value, &e.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetDatalist failed: %w", repoLogPrefix, err)
	}
	return &e, nil
}

// SetDatalist creates or replaces the entry stored under name.
func (r *Repository) SetDatalist(ctx context.Context, name, value string) error {
	slog.Info(fmt.Sprintf("%s - SetDatalist name=%s", repoLogPrefix, name))

	_, err := r.pool.Exec(ctx,
		`INSERT INTO datalists (name, value, modified)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, modified = EXCLUDED.modified`,
		name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s - SetDatalist failed: %w", repoLogPrefix, err)
	}
	return nil
}

// InsertDatalistIfAbsent stores value under name unless an entry already
// exists, and returns whichever value ends up stored. Concurrent first
// writers therefore agree on a single value.
func (r *Repository) InsertDatalistIfAbsent(ctx context.Context, name, value string) (string, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO datalists (name, value, modified) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		name, value, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("%s - InsertDatalistIfAbsent failed: %w", repoLogPrefix, err)
	}

	e, err := r.GetDatalist(ctx, name)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", fmt.Errorf("%s - datalist %q missing after insert", repoLogPrefix, name)
	}
	return e.Value, nil
}

// DeleteDatalist removes the entry stored under name. Deleting a missing
// entry is not an error.
func (r *Repository) DeleteDatalist(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM datalists WHERE name = $1`, name); err != nil {
		return fmt.Errorf("%s - DeleteDatalist failed: %w", repoLogPrefix, err)
	}
	return nil
}

// Ping checks database connectivity for the health endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
