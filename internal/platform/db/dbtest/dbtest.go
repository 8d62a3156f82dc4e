// Package dbtest opens a migrated Postgres pool for repository tests. Tests
// that call Open are skipped unless WASTEPLAN_TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/wasteplan/internal/platform/db"
)

// EnvDSN names the variable holding the test database URL.
const EnvDSN = "WASTEPLAN_TEST_DATABASE_URL"

// Open connects, migrates and empties every table. The pool is closed when
// the test ends.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvDSN)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE plan_entries, plan_versions, plan_headers, actual_results, companies RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}
