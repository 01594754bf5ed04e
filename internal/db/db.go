package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "risk-thresholds"

// Option adjusts the pool before it is opened.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool. Approvals hold a connection for the whole
// locked transaction, so this bounds concurrent resolutions too.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
			c.MinConns = min(c.MinConns, n)
		}
	}
}

// Connect opens a pooled connection and verifies it with a ping. Sessions are
// tagged with the application name and a statement timeout so a stuck row
// lock surfaces as an error rather than a hung request.
func Connect(ctx context.Context, dbURL string, opts ...Option) (*pgxpool.Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	params := config.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = applicationName
	}
	if params["statement_timeout"] == "" {
		params["statement_timeout"] = "15000"
	}
	for _, opt := range opts {
		opt(config)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return pool, nil
}
