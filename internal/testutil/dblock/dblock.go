// Package dblock gives integration tests exclusive use of the shared
// DATABASE_URL database, even across test binaries running in parallel.
package dblock

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// A loopback listener is the cross-process mutex: only one binary can bind it.
const defaultLockAddr = "127.0.0.1:45432"

const truncateAll = `TRUNCATE TABLE threshold_notifications, threshold_change_events, threshold_change_requests, threshold_history, threshold_configs`

// Open skips the test unless DATABASE_URL is set. Otherwise it takes the
// lock, applies the schema and returns a pool over empty tables. Lock and pool
// are released by t.Cleanup.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	t.Cleanup(acquire(t))

	ctx := context.Background()
	pool, err := db.Connect(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.EnsureSchema(ctx, pool))
	_, err = pool.Exec(ctx, truncateAll)
	require.NoError(t, err)
	return pool
}

func acquire(t testing.TB) func() {
	addr := os.Getenv("DBLOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		if time.Now().After(deadline) {
			t.Fatalf("dblock: timed out waiting for %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
