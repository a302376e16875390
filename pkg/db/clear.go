package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// SiteSecretKey is the datalist key holding the site-wide token secret.
const SiteSecretKey = "__site_secret__"

// ClearSiteSecret deletes the stored site secret. The next token request
// generates a fresh one, which invalidates every outstanding action token
// and session cookie.
func ClearSiteSecret(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing site secret", clearLogPrefix))

	if err := NewRepository(pool).DeleteDatalist(ctx, SiteSecretKey); err != nil {
		return fmt.Errorf("%s - clear failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Site secret cleared", clearLogPrefix))
	return nil
}
