// Package config loads server settings from a .env file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/slot-admin/store/sqldb"
)

// Config holds every server setting.
type Config struct {
	Port        int
	DBDriver    string
	DatabaseURL string
	JWTSecret   string

	// RedisAddr enables cross-instance chat fan-out when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSOrigins          []string
	BalanceCheckInterval time.Duration

	// RateLimit is requests per second per client IP.
	RateLimit float64
	RateBurst int
}

// Load reads envFile (a missing file is ignored), then the environment,
// then args.
func Load(envFile string, args []string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		DBDriver:      envString("DB_DRIVER", sqldb.DriverSQLite),
		DatabaseURL:   envString("DATABASE_URL", "slot-admin.db"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CORSOrigins:   splitList(os.Getenv("CORS_ORIGINS")),
	}

	var err error
	if cfg.Port, err = envInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = envInt("RATE_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envFloat("RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.BalanceCheckInterval, err = envDuration("BALANCE_CHECK_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	// Flags
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "Database driver (sqlite3, postgres, pgx)")
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "Database DSN or SQLite path")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for chat fan-out")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case sqldb.DriverSQLite, sqldb.DriverPostgres, sqldb.DriverPgx:
	default:
		return fmt.Errorf("DB_DRIVER: unknown driver %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT: %d out of range", c.Port)
	}
	if c.BalanceCheckInterval < 0 {
		return fmt.Errorf("BALANCE_CHECK_INTERVAL: must not be negative")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// envDuration accepts Go durations ("30m") or whole seconds ("1800").
// Zero disables the job it configures.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
