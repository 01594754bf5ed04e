package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// maxTxAttempts bounds retries of transient serialization failures.
const maxTxAttempts = 3

// Store provides access to the Postgres query set and transaction scoping.
type Store struct {
	db      *pgxpool.Pool
	queries Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: NewPostgresQueries(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() Queries {
	return s.queries
}

// RunInTx executes fn within a database transaction. Serialization failures
// and deadlocks are retried; fn must therefore be safe to run again, which
// holds because every audit append is idempotency keyed.
func (s *Store) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		zap.L().Warn("retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(NewPostgresQueries(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	default:
		return false
	}
}
