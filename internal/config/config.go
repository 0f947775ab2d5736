package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
// Provider credentials are not kept here; the ai package reads them on
// every call.
type Config struct {
	Port           string
	Database       string
	AttemptTimeout time.Duration
	FallbackBudget time.Duration
	ProviderOrder  []string
	LogLevel       slog.Level
	LogFormat      string
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary key lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, fallback string) string {
		if val, ok := lookup(key); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
		return fallback
	}

	cfg := Config{
		Port:      get("PORT", "8080"),
		Database:  get("DATABASE_PATH", "./data/lamla.db"),
		LogFormat: strings.ToLower(get("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.AttemptTimeout, err = parseDuration(get("AI_PROVIDER_TIMEOUT", "30s")); err != nil {
		return Config{}, fmt.Errorf("parse AI_PROVIDER_TIMEOUT: %w", err)
	}
	if cfg.FallbackBudget, err = parseDuration(get("AI_FALLBACK_BUDGET", "0")); err != nil {
		return Config{}, fmt.Errorf("parse AI_FALLBACK_BUDGET: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	if raw := get("AI_PROVIDER_PRIORITY", ""); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.ProviderOrder = append(cfg.ProviderOrder, name)
			}
		}
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("unsupported LOG_FORMAT %q", cfg.LogFormat)
	}
	return cfg, nil
}

// EnsureDataDir creates the directory holding the database file.
func (c Config) EnsureDataDir() error {
	if c.Database == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Database), 0o755); err != nil {
		return fmt.Errorf("ensure database dir %s: %w", c.Database, err)
	}
	return nil
}

// NewLogger builds the process logger from LogFormat and LogLevel.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
