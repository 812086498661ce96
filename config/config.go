// Package config loads service settings from the environment.
//
// An optional .env file in the working directory is read first; variables
// already present in the process environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the service.
type Config struct {
	Environment string
	ServerPort  string
	AdminKey    string
	CORSOrigins []string

	DB        DBConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Vote      VoteConfig

	SweepInterval time.Duration
	ListCacheTTL  time.Duration

	LogLevel  string
	LogFormat string
}

// DBConfig selects and addresses the relational store.
type DBConfig struct {
	Driver     string // mysql or sqlite
	User       string
	Password   string
	Host       string
	Port       string
	Name       string
	SQLitePath string
}

// RedisConfig addresses the optional Redis instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Disabled bool
}

// RateLimitConfig configures per-second token buckets.
type RateLimitConfig struct {
	Enabled     bool
	GlobalRate  int
	GlobalBurst int
	UserRate    int
	UserBurst   int
}

// VoteConfig bounds the vote recording path.
type VoteConfig struct {
	MaxRetries   int
	StoreTimeout time.Duration
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "8090"),
		AdminKey:    getEnv("ADMIN_KEY", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		DB: DBConfig{
			Driver:     getEnv("DB_DRIVER", "mysql"),
			User:       getEnv("DB_USER", "voteuser"),
			Password:   getEnv("DB_PASSWORD", "votepassword"),
			Host:       getEnv("DB_HOST", "mysql"),
			Port:       getEnv("DB_PORT", "3306"),
			Name:       getEnv("DB_NAME", "pollingdb"),
			SQLitePath: getEnv("SQLITE_PATH", "polling.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Disabled: getEnvBool("REDIS_DISABLED", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvBool("ENABLE_RATE_LIMIT", true),
			GlobalRate:  getEnvInt("GLOBAL_RATE_LIMIT", 1000),
			GlobalBurst: getEnvInt("GLOBAL_RATE_BURST", 2000),
			UserRate:    getEnvInt("USER_RATE_LIMIT", 5),
			UserBurst:   getEnvInt("USER_RATE_BURST", 10),
		},
		Vote: VoteConfig{
			MaxRetries:   getEnvInt("VOTE_MAX_RETRIES", 3),
			StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		},
		SweepInterval: getEnvDuration("POLL_SWEEP_INTERVAL", time.Minute),
		ListCacheTTL:  getEnvDuration("LIST_CACHE_TTL", 30*time.Second),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Vote.MaxRetries < 0 {
		return fmt.Errorf("VOTE_MAX_RETRIES must not be negative")
	}
	if c.Vote.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("POLL_SWEEP_INTERVAL must be positive")
	}
	if c.Environment == "production" && c.AdminKey == "" {
		return fmt.Errorf("ADMIN_KEY is required in production")
	}
	return nil
}

// IsDevelopment reports whether sample data and verbose SQL logging are wanted.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DSN builds the MySQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// NewLogger builds the process logger and installs it as the slog default.
func NewLogger(c Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
