//go:build integration

package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbIntegrationPrefix = "db:integration_test"

// testDBEnv returns the database URL for integration tests; skips the test if not set.
func testDBEnv(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("db:integration_test - DATABASE_URL not set, skipping")
	}
	return url
}

func setupIntegrationPool(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pool, err := NewPool(ctx, testDBEnv(t))
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", dbIntegrationPrefix, err)
	}
	t.Cleanup(pool.Close)

	migrations, err := LoadMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - LoadMigrations failed: %v", dbIntegrationPrefix, err)
	}
	if err := RunMigrations(ctx, pool, migrations); err != nil {
		t.Fatalf("%s - RunMigrations failed: %v", dbIntegrationPrefix, err)
	}
	return ctx, pool
}

func TestIntegration_DatalistRoundTrip(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)
	repo := NewRepository(pool)
	key := "integration_test_key"
	t.Cleanup(func() { _ = repo.DeleteDatalist(ctx, key) })

	missing, err := repo.GetDatalist(ctx, key)
	if err != nil {
		t.Fatalf("%s - GetDatalist failed: %v", dbIntegrationPrefix, err)
	}
	if missing != nil {
		t.Fatalf("%s - expected no entry before insert", dbIntegrationPrefix)
	}

	if err := repo.SetDatalist(ctx, key, "first"); err != nil {
		t.Fatalf("%s - SetDatalist failed: %v", dbIntegrationPrefix, err)
	}
	if err := repo.SetDatalist(ctx, key, "second"); err != nil {
		t.Fatalf("%s - SetDatalist overwrite failed: %v", dbIntegrationPrefix, err)
	}
	got, err := repo.GetDatalist(ctx, key)
	if err != nil || got == nil {
		t.Fatalf("%s - GetDatalist after set: entry=%v err=%v", dbIntegrationPrefix, got, err)
	}
	if got.Value != "second" {
		t.Errorf("%s - value = %q, want %q", dbIntegrationPrefix, got.Value, "second")
	}
}

func TestIntegration_InsertDatalistIfAbsentKeepsFirst(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)
	repo := NewRepository(pool)
	key := "integration_test_once"
	t.Cleanup(func() { _ = repo.DeleteDatalist(ctx, key) })

	first, err := repo.InsertDatalistIfAbsent(ctx, key, "a")
	if err != nil {
		t.Fatalf("%s - first insert failed: %v", dbIntegrationPrefix, err)
	}
	second, err := repo.InsertDatalistIfAbsent(ctx, key, "b")
	if err != nil {
		t.Fatalf("%s - second insert failed: %v", dbIntegrationPrefix, err)
	}
	if first != "a" || second != "a" {
		t.Errorf("%s - got %q then %q, want a then a", dbIntegrationPrefix, first, second)
	}
}

func TestIntegration_ClearSiteSecret(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)
	repo := NewRepository(pool)

	if err := repo.SetDatalist(ctx, SiteSecretKey, "secret"); err != nil {
		t.Fatalf("%s - SetDatalist failed: %v", dbIntegrationPrefix, err)
	}
	if err := ClearSiteSecret(ctx, pool); err != nil {
		t.Fatalf("%s - ClearSiteSecret failed: %v", dbIntegrationPrefix, err)
	}
	got, err := repo.GetDatalist(ctx, SiteSecretKey)
	if err != nil {
		t.Fatalf("%s - GetDatalist failed: %v", dbIntegrationPrefix, err)
	}
	if got != nil {
		t.Errorf("%s - expected secret to be cleared", dbIntegrationPrefix)
	}
}

func TestIntegration_MigrationsRecordedAndIdempotent(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)

	migrations, err := LoadMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - LoadMigrations failed: %v", dbIntegrationPrefix, err)
	}
	// setupIntegrationPool already applied everything; a second run is a no-op.
	if err := RunMigrations(ctx, pool, migrations); err != nil {
		t.Fatalf("%s - second RunMigrations failed: %v", dbIntegrationPrefix, err)
	}

	states, err := MigrationStatus(ctx, pool, migrations)
	if err != nil {
		t.Fatalf("%s - MigrationStatus failed: %v", dbIntegrationPrefix, err)
	}
	if len(states) != len(migrations) {
		t.Fatalf("%s - %d states for %d migrations", dbIntegrationPrefix, len(states), len(migrations))
	}
	for _, st := range states {
		if !st.Applied || st.AppliedAt.IsZero() {
			t.Errorf("%s - %s not recorded as applied: %+v", dbIntegrationPrefix, st.Name, st)
		}
	}
}
