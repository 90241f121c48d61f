package domain

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every configuration variable.
const EnvPrefix = "SENTINEL_"

// LoadConfig builds the configuration from defaults and environment variables.
// A .env file in the working directory is loaded first if present.
func LoadConfig() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if Tier(getEnv("TIER", string(TierCommunity))) == TierPro {
		cfg = ProConfig()
	}

	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)

	cfg.Repository.Driver = getEnv("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = getEnv("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.EventBus.Type = getEnv("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.NATSQueueGroup = getEnv("NATS_QUEUE", cfg.EventBus.NATSQueueGroup)

	cfg.Lock.Type = getEnv("LOCK_TYPE", cfg.Lock.Type)
	cfg.Lock.Timeout = getEnvDuration("LOCK_TIMEOUT", cfg.Lock.Timeout)
	cfg.Lock.RedisAddr = getEnv("REDIS_ADDR", cfg.Lock.RedisAddr)
	cfg.Lock.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Lock.RedisPassword)

	cfg.Signal.URL = getEnv("SIGNAL_URL", cfg.Signal.URL)
	cfg.Signal.Timeout = getEnvDuration("SIGNAL_TIMEOUT", cfg.Signal.Timeout)

	cfg.Scoring.HomeCountry = getEnv("HOME_COUNTRY", cfg.Scoring.HomeCountry)
	cfg.Scoring.LowFrictionChannel = strings.ToUpper(getEnv("LOW_FRICTION_CHANNEL", cfg.Scoring.LowFrictionChannel))

	cfg.Worker.Enabled = getEnvBool("ASYNC_WORKER", cfg.Worker.Enabled)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	cfg.Tracing.Enabled = getEnvBool("TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.ExporterType = getEnv("TRACING_EXPORTER", cfg.Tracing.ExporterType)
	cfg.Tracing.Endpoint = getEnv("OTLP_ENDPOINT", cfg.Tracing.Endpoint)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
