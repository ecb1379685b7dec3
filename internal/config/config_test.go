package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "MAX_SENDERS", "SENDER_TIMEOUT", "INGEST_HOOK"} {
		os.Unsetenv(key)
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 25, cfg.MaxSenders)
	assert.Equal(t, 30*time.Second, cfg.SenderTimeout)
	assert.Equal(t, "noop", cfg.IngestHook)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_SENDERS", "5")
	t.Setenv("BATCH_INTERVAL", "250ms")
	t.Setenv("LOG_PRETTY", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5, cfg.MaxSenders)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchInterval)
	assert.True(t, cfg.LogPretty)
}

func TestLoadFallsBackOnUnparsableOverride(t *testing.T) {
	t.Setenv("MAX_SENDERS", "not-a-number")
	t.Setenv("SENDER_TIMEOUT", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 25, cfg.MaxSenders)
	assert.Equal(t, 30*time.Second, cfg.SenderTimeout)
}
