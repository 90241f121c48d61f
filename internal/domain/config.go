package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Sentinel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Lock       LockConfig       `json:"lock"`
	Signal     SignalConfig     `json:"signal"`
	Scoring    ScoringConfig    `json:"scoring"`
	Worker     WorkerConfig     `json:"worker"`

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

// WorkerConfig controls the async bus consumer.
type WorkerConfig struct {
	Enabled    bool `json:"enabled"`
	MaxRetries int  `json:"maxRetries"`
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
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process locks
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

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
			SQLitePath: "./sentinel.db",
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
		Lock: LockConfig{
			Type:    "local",
			Timeout: 2 * time.Second,
		},
		Signal: SignalConfig{
			Timeout:          500 * time.Millisecond,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Scoring: ScoringConfig{
			HomeCountry:        "india",
			LowFrictionChannel: "UPI",
			ResultTTL:          24 * time.Hour,
			VelocityWindow:     time.Hour,
		},
		Worker: WorkerConfig{
			Enabled:    false,
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "sentinel",
			ExporterType: "stdout",
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
		PostgresDB:   "sentinel",
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
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "sentinel-workers",
	}
	cfg.Lock = LockConfig{
		Type:         "redis",
		Timeout:      2 * time.Second,
		RedisAddr:    "localhost:6379",
		RedisLockTTL: 10 * time.Second,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.ExporterType = "otlp"
	cfg.Tracing.Endpoint = "localhost:4317"
	return cfg
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", c.Repository.Driver)
	}
	switch c.Lock.Type {
	case "local", "redis":
	default:
		return fmt.Errorf("unsupported lock type: %s", c.Lock.Type)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if c.Scoring.LowFrictionChannel == "" {
		return fmt.Errorf("scoring low friction channel is required")
	}
	if c.Tracing.Enabled && c.Tracing.ExporterType == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required for otlp exporter")
	}
	return nil
}
