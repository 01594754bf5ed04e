package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Minute)
}

func TestStoreReserveFinalizeReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := uuid.NewString()

	_, err := s.Lookup(ctx, key, "h1")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Reserve(ctx, key, "h1", "POST", "/v1/threshold-changes")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Reserve(ctx, key, "h1", "POST", "/v1/threshold-changes")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Lookup(ctx, key, "h1")
	require.ErrorIs(t, err, ErrInProgress)

	_, err = s.Finalize(ctx, key, "h1", 201, []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)

	rec, err := s.WaitForCompletion(ctx, key, "h1")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))

	_, err = s.Lookup(ctx, key, "other")
	require.ErrorIs(t, err, ErrHashMismatch)

	require.NoError(t, s.Release(ctx, key))
	_, err = s.Lookup(ctx, key, "h1")
	require.ErrorIs(t, err, ErrNotFound)
}
