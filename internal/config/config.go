package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/repository"
)

// Cart storage backends.
const (
	CartStoreRedis  = "redis"
	CartStoreMongo  = "mongo"
	CartStoreMemory = "memory"
)

type Config struct {
	Env                string
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	BackendURL     string
	BackendTimeout time.Duration

	CartStore    string
	CartTTL      time.Duration
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	MongoURI     string
	MongoDB      string
	MongoTimeout time.Duration
	LedgerCred   repository.Credentials

	KafkaBrokers []string
	InstanceID   string

	SessionIdleTTL     time.Duration
	PollBaseInterval   time.Duration
	PollMaxAttempts    int
	PollRequestTimeout time.Duration
	EventBufferSize    int
}

// Load reads an optional .env file at path and then the process environment.
// Variables already set in the environment take precedence over the file.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{
		Env:                getEnv("APP_ENV", "development"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: 1 << 20, // 1MB

		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8000"),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),

		CartStore:    strings.ToLower(getEnv("CART_STORE", CartStoreRedis)),
		CartTTL:      getEnvDuration("CART_TTL", 7*24*time.Hour),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DB", "storefront"),
		MongoTimeout: getEnvDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
		LedgerCred:   repository.Credentials{
			Driver:            getEnv("LEDGER_DRIVER", repository.DriverSQLite),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "storefront"),
			SQLitePath:        getEnv("SQLITE_PATH", "storefront.db"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		InstanceID:   getEnv("INSTANCE_ID", ""),

		SessionIdleTTL:     getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		PollBaseInterval:   getEnvDuration("PAYMENT_POLL_INTERVAL", 6*time.Second),
		PollMaxAttempts:    getEnvInt("PAYMENT_POLL_MAX_ATTEMPTS", 20),
		PollRequestTimeout: getEnvDuration("PAYMENT_POLL_REQUEST_TIMEOUT", 10*time.Second),
		EventBufferSize:    getEnvInt("EVENT_BUFFER_SIZE", 256),
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("HTTP_PORT must not be empty"))
	}
	if c.BackendURL == "" {
		errs = append(errs, errors.New("BACKEND_URL must not be empty"))
	}
	switch c.CartStore {
	case CartStoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis cart store"))
		}
	case CartStoreMongo:
		if c.MongoURI == "" || c.MongoDB == "" {
			errs = append(errs, errors.New("MONGO_URI and MONGO_DB are required for the mongo cart store"))
		}
	case CartStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported CART_STORE %q", c.CartStore))
	}
	switch c.LedgerCred.Driver {
	case repository.DriverSQLite:
		if c.LedgerCred.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite ledger"))
		}
	case repository.DriverPostgres:
		if c.LedgerCred.Host == "" || c.LedgerCred.DBName == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for the postgres ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LEDGER_DRIVER %q", c.LedgerCred.Driver))
	}
	if c.PollBaseInterval <= 0 {
		errs = append(errs, errors.New("PAYMENT_POLL_INTERVAL must be positive"))
	}
	if c.PollMaxAttempts <= 0 {
		errs = append(errs, errors.New("PAYMENT_POLL_MAX_ATTEMPTS must be positive"))
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
