// Package config loads relay server configuration from the environment,
// the same way api/cmd/main.go wires its configuration: no flag parsing,
// no config file, just os.Getenv with sane defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in spec section 6.
type Config struct {
	// Port is the listening port for the HTTP/WebSocket server.
	Port string

	// MaxSenders bounds the sender population (admission control).
	MaxSenders int

	// SenderTimeout is the inactivity deadline for the active sender.
	SenderTimeout time.Duration

	// BatchInterval is the bulk batcher's time trigger.
	BatchInterval time.Duration

	// MaxBatchSize is the bulk batcher's size trigger.
	MaxBatchSize int

	// WriteQueueCap bounds each connection's outbound write queue.
	WriteQueueCap int

	// SlowConsumerDeadline bounds how long a full write queue is tolerated
	// before a dashboard/listener/bulk_listener connection is closed.
	SlowConsumerDeadline time.Duration

	// DrainDeadline bounds graceful shutdown.
	DrainDeadline time.Duration

	// SessionTickInterval drives the session manager's inactivity check.
	SessionTickInterval time.Duration

	// IngestHook selects the ingest hook backend: "noop", "nats", "redis".
	IngestHook string

	// NatsURL is used when IngestHook == "nats".
	NatsURL string

	// RedisAddr is used when IngestHook == "redis".
	RedisAddr string

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string

	// LogPretty enables console-friendly (non-JSON) log output.
	LogPretty bool
}

// Load reads configuration from the environment, applying the defaults
// named in spec section 6.
func Load() Config {
	return Config{
		Port:                 getEnv("PORT", "8080"),
		MaxSenders:           getEnvInt("MAX_SENDERS", 25),
		SenderTimeout:        getEnvDuration("SENDER_TIMEOUT", 30*time.Second),
		BatchInterval:        getEnvDuration("BATCH_INTERVAL", 1000*time.Millisecond),
		MaxBatchSize:         getEnvInt("MAX_BATCH_SIZE", 10),
		WriteQueueCap:        getEnvInt("WRITE_QUEUE_CAP", 256),
		SlowConsumerDeadline: getEnvDuration("SLOW_CONSUMER_DEADLINE", 5*time.Second),
		DrainDeadline:        getEnvDuration("DRAIN_DEADLINE", 5*time.Second),
		SessionTickInterval:  getEnvDuration("SESSION_TICK_INTERVAL", 1*time.Second),
		IngestHook:           getEnv("INGEST_HOOK", "noop"),
		NatsURL:              getEnv("NATS_URL", "nats://localhost:4222"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogPretty:            getEnv("LOG_PRETTY", "false") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
