package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := FromLookup(lookup(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/lamla.db", cfg.Database)
	assert.Equal(t, 30*time.Second, cfg.AttemptTimeout)
	assert.Zero(t, cfg.FallbackBudget)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.ProviderOrder)
}

func TestFromLookup_Overrides(t *testing.T) {
	t.Parallel()
	cfg, err := FromLookup(lookup(map[string]string{
		"PORT":                 "9000",
		"AI_PROVIDER_TIMEOUT":  "12",
		"AI_FALLBACK_BUDGET":   "45s",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "JSON",
		"AI_PROVIDER_PRIORITY": "gemini, deepseek,",
		"DATABASE_PATH":        "  ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "./data/lamla.db", cfg.Database)
	assert.Equal(t, 12*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 45*time.Second, cfg.FallbackBudget)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"gemini", "deepseek"}, cfg.ProviderOrder)
}

func TestFromLookup_Invalid(t *testing.T) {
	t.Parallel()
	tests := map[string]map[string]string{
		"timeout":  {"AI_PROVIDER_TIMEOUT": "soon"},
		"negative": {"AI_FALLBACK_BUDGET": "-5"},
		"level":    {"LOG_LEVEL": "loud"},
		"format":   {"LOG_FORMAT": "xml"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := FromLookup(lookup(env))
			assert.Error(t, err)
		})
	}
}

func TestEnsureDataDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Database: dir + "/nested/lamla.db"}
	require.NoError(t, cfg.EnsureDataDir())
	assert.DirExists(t, dir+"/nested")
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cfg := Config{LogFormat: "json", LogLevel: slog.LevelWarn}
	logger := cfg.NewLogger(&buf)

	logger.Info("dropped")
	logger.Warn("kept", "provider", "gemini")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "gemini", entry["provider"])
}
