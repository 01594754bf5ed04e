package service

import (
	"context"

	"github.com/ayo6706/risk-thresholds/internal/repository"
)

// QueryStore is the storage seam shared by the memory and Postgres backends.
// Work inside RunInTx commits atomically: a threshold swap, its history row
// and its audit event become visible together or not at all.
type QueryStore interface {
	Queries() repository.Queries
	RunInTx(ctx context.Context, fn func(q repository.Queries) error) error
}

var (
	_ QueryStore = (*repository.MemoryStore)(nil)
	_ QueryStore = (*repository.Store)(nil)
)
