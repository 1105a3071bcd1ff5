package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "DPay"
	defaultAppEnv          = "development"
	defaultPort            = "3001"
	defaultLogLevel        = "info"
	defaultMongoDatabase   = "dpay"
	defaultAMQPExchange    = "dpay.ledger"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultMaxPageLimit    = 500
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	StoreBackend   string
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string
	RedisURL       string
	AMQPURL        string
	AMQPExchange   string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	// RateLimitPerMinute bounds POST requests per client IP; 0 disables it.
	RateLimitPerMinute int
	MaxPageLimit       int
}

// Load reads an optional .env file, then the environment, and populates a Config instance.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		StoreBackend:   strings.ToLower(os.Getenv("STORE_BACKEND")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  getEnv("MONGO_DATABASE", defaultMongoDatabase),
		RedisURL:       os.Getenv("REDIS_URL"),
		AMQPURL:        os.Getenv("AMQP_URL"),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", defaultAMQPExchange),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		MaxPageLimit:   defaultMaxPageLimit,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", 0); err != nil {
		return Config{}, err
	}
	if cfg.MaxPageLimit, err = intEnv("TRANSACTIONS_MAX_LIMIT", cfg.MaxPageLimit); err != nil {
		return Config{}, err
	}

	if cfg.StoreBackend == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.StoreBackend = BackendPostgres
		case cfg.MongoURI != "":
			cfg.StoreBackend = BackendMongo
		default:
			cfg.StoreBackend = BackendMemory
		}
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set for the postgres backend")
		}
	case BackendMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI must be set for the mongo backend")
		}
	case BackendMemory:
		if !cfg.IsDev() {
			return Config{}, fmt.Errorf("a persistent STORE_BACKEND is required when APP_ENV=%s", cfg.AppEnv)
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}
