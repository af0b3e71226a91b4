package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Evaluation pipeline
	Engine     EngineConfig    `json:"engine"`
	Worker     WorkerConfig    `json:"worker"`
	Thresholds ThresholdConfig `json:"thresholds"`
	Alerts     AlertConfig     `json:"alerts"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// EngineConfig tunes a single evaluation.
type EngineConfig struct {
	// MaxWorkers bounds heuristics running in parallel within one evaluation.
	MaxWorkers int `json:"maxWorkers"`
}

// WorkerConfig tunes the evaluation queue consumer.
type WorkerConfig struct {
	Enabled        bool          `json:"enabled"`
	Concurrency    int           `json:"concurrency"`
	MaxAttempts    int           `json:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff"`
	JobTTL         time.Duration `json:"jobTtl"` // lifetime of a job claim
}

// ThresholdConfig controls the threshold snapshot cache and seeding.
type ThresholdConfig struct {
	CacheTTL     time.Duration `json:"cacheTtl"`
	SeedDefaults bool          `json:"seedDefaults"`
}

// AlertConfig holds the alert policy expression evaluated per detection.
type AlertConfig struct {
	Expression string `json:"expression"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultAlertExpression raises alerts for high and critical detections.
const DefaultAlertExpression = `severity in ["high", "critical"]`

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxWorkers: 5,
		},
		Worker: WorkerConfig{
			Enabled:        true,
			Concurrency:    4,
			MaxAttempts:    3,
			InitialBackoff: 30 * time.Second,
			MaxBackoff:     10 * time.Minute,
			JobTTL:         time.Hour,
		},
		Thresholds: ThresholdConfig{
			CacheTTL:     5 * time.Minute,
			SeedDefaults: true,
		},
		Alerts: AlertConfig{
			Expression: DefaultAlertExpression,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
		MaxOpenConns: 20,
		MaxIdleConns: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSQueueGroup:    "kestrel-workers",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
