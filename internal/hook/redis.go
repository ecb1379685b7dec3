// Redis ingest-hook backend, grounded on api/internal/cache and
// agents/docker-agent's use of github.com/redis/go-redis/v9 — a lighter
// alternative to NATS for a collaborator that already runs Redis.
package hook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sensor-relay/relay/internal/wsmsg"
)

// RedisHook publishes every accepted frame to the "relay:ingest" channel.
type RedisHook struct {
	client  *redis.Client
	channel string
}

// NewRedisHook constructs a hook against addr (host:port).
func NewRedisHook(addr string) *RedisHook {
	return &RedisHook{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: "relay:ingest",
	}
}

// Ingest publishes a JSON envelope {senderId, frame} to the channel.
func (h *RedisHook) Ingest(ctx context.Context, senderID string, frame wsmsg.SensorFrame) error {
	envelope := struct {
		SenderID string            `json:"senderId"`
		Frame    wsmsg.SensorFrame `json:"frame"`
	}{SenderID: senderID, Frame: frame}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return h.client.Publish(ctx, h.channel, payload).Err()
}

// Close closes the underlying Redis client.
func (h *RedisHook) Close() error {
	return h.client.Close()
}
