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
	defaultAppName         = "WalletLedger"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultStreamPort      = "8081"
	defaultLogLevel        = "info"
	defaultCurrency        = "USD"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultWriteRateLimit  = 60
	defaultNotifyWorkers   = 4
	defaultDBMaxConns      = 10
	defaultNotifyQueueSize = 1024
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	StreamPort      string
	LogLevel        string
	LogFormat       string
	DatabaseURL     string
	DBMaxConns      int
	RedisURL        string
	JWTSecret       string
	DefaultCurrency string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	WriteRateLimit  int
	NotifyWorkers   int
	NotifyQueueSize int
}

// Load reads an optional .env file, then configuration values from the environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv populates a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		StreamPort:      getEnv("STREAM_PORT", defaultStreamPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.WriteRateLimit, err = intEnv("WRITE_RATE_LIMIT_PER_MINUTE", defaultWriteRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", defaultDBMaxConns); err != nil {
		return Config{}, err
	}
	if cfg.NotifyWorkers, err = intEnv("NOTIFY_WORKERS", defaultNotifyWorkers); err != nil {
		return Config{}, err
	}
	if cfg.NotifyQueueSize, err = intEnv("NOTIFY_QUEUE_SIZE", defaultNotifyQueueSize); err != nil {
		return Config{}, err
	}

	if len(cfg.DefaultCurrency) != 3 {
		return Config{}, fmt.Errorf("invalid DEFAULT_CURRENCY %q", cfg.DefaultCurrency)
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
		cfg.JWTSecret = "dev-secret"
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// IsDev reports whether in-memory fallbacks are allowed.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	return listenAddr(c.Port)
}

// StreamAddress returns the listen address of the websocket and metrics server.
func (c Config) StreamAddress() string {
	return listenAddr(c.StreamPort)
}

func listenAddr(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
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
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
