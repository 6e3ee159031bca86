// Package config loads flagdeck configuration from environment variables.
//
// Optional variables:
//   - BLOB_STORE: where console state is persisted, one of "pebble",
//     "postgres", "redis" or "memory" (default "pebble").
//   - DATA_DIR: Pebble data directory (default "flagdeck-data").
//   - DATABASE_URL: PostgreSQL connection string (required when
//     BLOB_STORE=postgres).
//   - REDIS_URL: redis:// URL (required when BLOB_STORE=redis).
//   - STATE_KEY: key the state blob is stored under (default "pm-ffm:static:v2").
//   - HTTP_ADDR: listen address for the HTTP API (default ":8080").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - WRITE_RATE_LIMIT: state-changing requests allowed per client per minute
//     (default "600", must be > 0 if set).
//   - STORE_TIMEOUT: deadline for each blob store read or write
//     (default "5s", must be > 0 if set).
//   - CONSOLE_HOSTNAME: when set, the API is also served on the tailnet under
//     this hostname.
//   - TS_AUTH_KEY, TS_STATE_DIR: tsnet credentials and state directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	defaultBlobStore             = StorePebble
	defaultDataDir               = "flagdeck-data"
	defaultStateKey              = "pm-ffm:static:v2"
	defaultHTTPAddr              = ":8080"
	defaultTSStateDir            = "tsnet-state"
	defaultMaxJSONBodySize int64 = 1 << 20 // 1MB
	defaultStoreTimeout          = 5 * time.Second
	defaultWriteRateLimit        = 600
)

// Config holds the runtime configuration for flagdeck.
type Config struct {
	BlobStore       string
	DataDir         string
	DatabaseURL     string
	RedisURL        string
	StateKey        string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	MaxJSONBodySize int64
	StoreTimeout    time.Duration
	WriteRateLimit  int
	ConsoleHostname string
	TSAuthKey       string
	TSStateDir      string
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if a backend is missing its connection
// string or if optional values fail validation.
func Load() (Config, error) {
	blobStore := strings.ToLower(envOrDefault("BLOB_STORE", defaultBlobStore))
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))

	switch blobStore {
	case StoreMemory, StorePebble:
	case StorePostgres:
		if databaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required when BLOB_STORE=postgres")
		}
	case StoreRedis:
		if redisURL == "" {
			return Config{}, errors.New("REDIS_URL is required when BLOB_STORE=redis")
		}
	default:
		return Config{}, fmt.Errorf("BLOB_STORE must be one of memory, pebble, postgres, redis; got %q", blobStore)
	}

	logFormat := strings.ToLower(envOrDefault("LOG_FORMAT", "json"))
	if logFormat != "json" && logFormat != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text; got %q", logFormat)
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	storeTimeout := defaultStoreTimeout
	if v := strings.TrimSpace(os.Getenv("STORE_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse STORE_TIMEOUT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("STORE_TIMEOUT must be > 0")
		}
		storeTimeout = parsed
	}

	writeRateLimit := defaultWriteRateLimit
	if v := strings.TrimSpace(os.Getenv("WRITE_RATE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WRITE_RATE_LIMIT: %w", err)
		}
		if n <= 0 {
			return Config{}, errors.New("WRITE_RATE_LIMIT must be > 0")
		}
		writeRateLimit = n
	}

	return Config{
		BlobStore:       blobStore,
		DataDir:         envOrDefault("DATA_DIR", defaultDataDir),
		DatabaseURL:     databaseURL,
		RedisURL:        redisURL,
		StateKey:        envOrDefault("STATE_KEY", defaultStateKey),
		HTTPAddr:        envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       logFormat,
		MaxJSONBodySize: maxJSONBodySize,
		StoreTimeout:    storeTimeout,
		WriteRateLimit:  writeRateLimit,
		ConsoleHostname: strings.TrimSpace(os.Getenv("CONSOLE_HOSTNAME")),
		TSAuthKey:       os.Getenv("TS_AUTH_KEY"),
		TSStateDir:      envOrDefault("TS_STATE_DIR", defaultTSStateDir),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
