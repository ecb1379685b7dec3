package hook

import "fmt"

// New selects an ingest hook backend by name ("noop", "nats", "redis").
func New(kind, natsURL, redisAddr string) (Hook, error) {
	switch kind {
	case "", "noop":
		return Noop{}, nil
	case "nats":
		return NewNatsHook(natsURL)
	case "redis":
		return NewRedisHook(redisAddr), nil
	default:
		return nil, fmt.Errorf("hook: unknown backend %q", kind)
	}
}
