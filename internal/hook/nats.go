// NATS ingest-hook backend, grounded on the real (non-stubbed)
// github.com/nats-io/nats.go usage in the teacher's docker-controller and
// k8s-controller submodules — the api module's own internal/events
// package only carries a NATS stub, so this file is the one place in the
// relay where a genuine NATS publish happens.
package hook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/sensor-relay/relay/internal/wsmsg"
)

// NatsHook publishes every accepted frame to "sensor.ingest.<senderID>".
type NatsHook struct {
	conn *nats.Conn
}

// NewNatsHook connects to url and returns a ready-to-use hook.
func NewNatsHook(url string) (*NatsHook, error) {
	conn, err := nats.Connect(url, nats.Name("sensor-relay"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsHook{conn: conn}, nil
}

// Ingest publishes frame as JSON to the sender's subject.
func (h *NatsHook) Ingest(_ context.Context, senderID string, frame wsmsg.SensorFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	subject := "sensor.ingest." + senderID
	return h.conn.Publish(subject, payload)
}

// Close closes the NATS connection.
func (h *NatsHook) Close() error {
	h.conn.Close()
	return nil
}
