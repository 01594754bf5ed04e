package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"

	AuthorityClaims = "claims"
	AuthorityFile   = "file"
)

// Config holds all runtime configuration derived from environment variables.
type Config struct {
	HTTPPort            string
	StorageBackend      string
	DatabaseURL         string
	DBMaxConns          int32
	RedisURL            string
	LockBackend         string
	LockTTL             time.Duration
	JWTSecret           string
	JWTIssuer           string
	JWTAudience         string
	AuthoritySource     string
	AuthorityFile       string
	SweepInterval       time.Duration
	RateLimitRPS        int
	IdempotencyTTL      time.Duration
	LogLevel            string
	NotifyChannelPrefix string
}

// Load reads environment variables using viper and returns a typed config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	bindEnv(v, "port", "PORT", "THRESHOLD_PORT")
	bindEnv(v, "storage_backend", "STORAGE_BACKEND", "THRESHOLD_STORAGE_BACKEND")
	bindEnv(v, "database_url", "DATABASE_URL", "THRESHOLD_DATABASE_URL")
	bindEnv(v, "db_max_conns", "DB_MAX_CONNS", "THRESHOLD_DB_MAX_CONNS")
	bindEnv(v, "redis_url", "REDIS_URL", "THRESHOLD_REDIS_URL")
	bindEnv(v, "lock_backend", "LOCK_BACKEND", "THRESHOLD_LOCK_BACKEND")
	bindEnv(v, "lock_ttl", "LOCK_TTL", "THRESHOLD_LOCK_TTL")
	bindEnv(v, "jwt_secret", "JWT_SECRET", "THRESHOLD_JWT_SECRET")
	bindEnv(v, "jwt_issuer", "JWT_ISSUER", "THRESHOLD_JWT_ISSUER")
	bindEnv(v, "jwt_audience", "JWT_AUDIENCE", "THRESHOLD_JWT_AUDIENCE")
	bindEnv(v, "authority_source", "AUTHORITY_SOURCE", "THRESHOLD_AUTHORITY_SOURCE")
	bindEnv(v, "authority_file", "AUTHORITY_FILE", "THRESHOLD_AUTHORITY_FILE")
	bindEnv(v, "sweep_interval", "SWEEP_INTERVAL", "THRESHOLD_SWEEP_INTERVAL")
	bindEnv(v, "rate_limit_rps", "RATE_LIMIT_RPS", "THRESHOLD_RATE_LIMIT_RPS")
	bindEnv(v, "idempotency_ttl", "IDEMPOTENCY_TTL", "THRESHOLD_IDEMPOTENCY_TTL")
	bindEnv(v, "log_level", "LOG_LEVEL", "THRESHOLD_LOG_LEVEL")
	bindEnv(v, "notify_channel_prefix", "NOTIFY_CHANNEL_PREFIX", "THRESHOLD_NOTIFY_CHANNEL_PREFIX")

	v.SetDefault("port", "8080")
	v.SetDefault("storage_backend", StorageMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("redis_url", "")
	v.SetDefault("lock_backend", LockLocal)
	v.SetDefault("lock_ttl", "10s")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "risk-thresholds")
	v.SetDefault("jwt_audience", "risk-thresholds-api")
	v.SetDefault("authority_source", AuthorityClaims)
	v.SetDefault("authority_file", "")
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("rate_limit_rps", 50)
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("log_level", "info")
	v.SetDefault("notify_channel_prefix", "threshold-notifications")

	lockTTL, err := time.ParseDuration(v.GetString("lock_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TTL: %w", err)
	}
	sweepInterval, err := time.ParseDuration(v.GetString("sweep_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	ttl, err := time.ParseDuration(v.GetString("idempotency_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
	}

	cfg := &Config{
		HTTPPort:            v.GetString("port"),
		StorageBackend:      strings.ToLower(strings.TrimSpace(v.GetString("storage_backend"))),
		DatabaseURL:         v.GetString("database_url"),
		DBMaxConns:          v.GetInt32("db_max_conns"),
		RedisURL:            v.GetString("redis_url"),
		LockBackend:         strings.ToLower(strings.TrimSpace(v.GetString("lock_backend"))),
		LockTTL:             lockTTL,
		JWTSecret:           v.GetString("jwt_secret"),
		JWTIssuer:           v.GetString("jwt_issuer"),
		JWTAudience:         v.GetString("jwt_audience"),
		AuthoritySource:     strings.ToLower(strings.TrimSpace(v.GetString("authority_source"))),
		AuthorityFile:       v.GetString("authority_file"),
		SweepInterval:       sweepInterval,
		RateLimitRPS:        max(v.GetInt("rate_limit_rps"), 1),
		IdempotencyTTL:      ttl,
		LogLevel:            v.GetString("log_level"),
		NotifyChannelPrefix: v.GetString("notify_channel_prefix"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if strings.TrimSpace(cfg.JWTIssuer) == "" {
		return fmt.Errorf("JWT_ISSUER is required")
	}
	if strings.TrimSpace(cfg.JWTAudience) == "" {
		return fmt.Errorf("JWT_AUDIENCE is required")
	}

	switch cfg.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: want memory or postgres", cfg.StorageBackend)
	}

	if cfg.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}

	switch cfg.LockBackend {
	case LockLocal:
	case LockRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND is redis")
		}
	default:
		return fmt.Errorf("invalid LOCK_BACKEND %q: want local or redis", cfg.LockBackend)
	}
	if cfg.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}

	switch cfg.AuthoritySource {
	case AuthorityClaims:
	case AuthorityFile:
		if strings.TrimSpace(cfg.AuthorityFile) == "" {
			return fmt.Errorf("AUTHORITY_FILE is required when AUTHORITY_SOURCE is file")
		}
	default:
		return fmt.Errorf("invalid AUTHORITY_SOURCE %q: want claims or file", cfg.AuthoritySource)
	}

	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

func bindEnv(v *viper.Viper, key string, names ...string) {
	args := append([]string{key}, names...)
	_ = v.BindEnv(args...)
}
