package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/oslsr/kestrel/internal/domain"
)

// loadConfig picks the tier defaults and applies KESTREL_* overrides.
func loadConfig(getenv func(string) string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	switch tier := getenv("KESTREL_TIER"); tier {
	case "", string(domain.TierCommunity):
	case string(domain.TierPro):
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	var err error
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := getenv(key)
		if v == "" || err != nil {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v := getenv(key)
		if v == "" || err != nil {
			return
		}
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = b
	}
	setDuration := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" || err != nil {
			return
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = d
	}

	setInt("KESTREL_PORT", &cfg.Server.Port)
	setString("KESTREL_HOST", &cfg.Server.Host)

	setString("KESTREL_DB_PATH", &cfg.Repository.SQLitePath)
	setString("KESTREL_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	setInt("KESTREL_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	setString("KESTREL_POSTGRES_USER", &cfg.Repository.PostgresUser)
	setString("KESTREL_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	setString("KESTREL_POSTGRES_DB", &cfg.Repository.PostgresDB)
	setString("KESTREL_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	setString("KESTREL_REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("KESTREL_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	setString("KESTREL_NATS_URL", &cfg.EventBus.NATSUrl)
	setString("KESTREL_NATS_TOKEN", &cfg.EventBus.NATSToken)
	setString("KESTREL_NATS_QUEUE_GROUP", &cfg.EventBus.NATSQueueGroup)

	setInt("KESTREL_ENGINE_MAX_WORKERS", &cfg.Engine.MaxWorkers)
	setBool("KESTREL_WORKER_ENABLED", &cfg.Worker.Enabled)
	setInt("KESTREL_WORKER_CONCURRENCY", &cfg.Worker.Concurrency)
	setInt("KESTREL_WORKER_MAX_ATTEMPTS", &cfg.Worker.MaxAttempts)
	setDuration("KESTREL_WORKER_INITIAL_BACKOFF", &cfg.Worker.InitialBackoff)

	setDuration("KESTREL_THRESHOLD_CACHE_TTL", &cfg.Thresholds.CacheTTL)
	setBool("KESTREL_SEED_THRESHOLDS", &cfg.Thresholds.SeedDefaults)
	setString("KESTREL_ALERT_EXPR", &cfg.Alerts.Expression)

	if err != nil {
		return nil, err
	}
	if cfg.Worker.Concurrency < 1 {
		return nil, fmt.Errorf("KESTREL_WORKER_CONCURRENCY must be at least 1")
	}
	return cfg, nil
}
