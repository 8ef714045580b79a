package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Mill.Number)
	assert.Equal(t, 60*time.Second, cfg.PollInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 8*time.Hour, cfg.Retention())
	assert.Equal(t, 2*time.Hour, cfg.DisplayWindow())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Redis.URL, "relay is off by default")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MILL_NUMBER", "6")
	t.Setenv("POLL_INTERVAL_SEC", "30")
	t.Setenv("DEBOUNCE_MS", "250")
	t.Setenv("TAGS_RATE_PER_SEC", "5.5")
	t.Setenv("CASCADE_RETURN_UNCERTAINTY", "true")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Mill.Number)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 5.5, cfg.Tags.RatePerSecond)
	assert.True(t, cfg.Cascade.ReturnUncertainty)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-positive mill", "MILL_NUMBER", "0"},
		{"non-positive poll interval", "POLL_INTERVAL_SEC", "-1"},
		{"non-positive debounce", "DEBOUNCE_MS", "0"},
		{"display wider than retention", "DISPLAY_HOURS", "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestBadEnvValuesFallBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SEC", "not-a-number")
	t.Setenv("CASCADE_RETURN_UNCERTAINTY", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Engine.PollIntervalSec)
	assert.False(t, cfg.Cascade.ReturnUncertainty)
}
