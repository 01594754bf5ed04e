package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, LockLocal, cfg.LockBackend)
	assert.Equal(t, AuthorityClaims, cfg.AuthoritySource)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
}

func TestLoadPrefixedAliases(t *testing.T) {
	t.Setenv("THRESHOLD_JWT_SECRET", testSecret)
	t.Setenv("THRESHOLD_PORT", "9090")
	t.Setenv("THRESHOLD_SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET is required"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "at least 32"},
		{"postgres without url", map[string]string{"JWT_SECRET": testSecret, "STORAGE_BACKEND": "postgres"}, "DATABASE_URL"},
		{"unknown storage", map[string]string{"JWT_SECRET": testSecret, "STORAGE_BACKEND": "sqlite"}, "STORAGE_BACKEND"},
		{"redis lock without url", map[string]string{"JWT_SECRET": testSecret, "LOCK_BACKEND": "redis"}, "REDIS_URL"},
		{"file authority without path", map[string]string{"JWT_SECRET": testSecret, "AUTHORITY_SOURCE": "file"}, "AUTHORITY_FILE"},
		{"zero pool size", map[string]string{"JWT_SECRET": testSecret, "DB_MAX_CONNS": "0"}, "DB_MAX_CONNS"},
		{"bad sweep interval", map[string]string{"JWT_SECRET": testSecret, "SWEEP_INTERVAL": "soon"}, "SWEEP_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
