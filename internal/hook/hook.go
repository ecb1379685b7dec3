// Package hook implements the ingest hook of spec section 6: an external
// collaborator interface invoked with (sender_id, frame) for every
// accepted sensor frame. The relay itself stays storage-free; a hook
// implementation is how a downstream analytics sink or ingest API
// receives the stream. All implementations are fire-and-forget —
// errors are returned to the caller, which logs and discards them (spec
// section 7, "Ingest-hook errors").
package hook

import (
	"context"

	"github.com/sensor-relay/relay/internal/wsmsg"
)

// Hook is invoked once per accepted SensorFrame.
type Hook interface {
	Ingest(ctx context.Context, senderID string, frame wsmsg.SensorFrame) error
	Close() error
}

// Noop is the default hook: it does nothing. Used when INGEST_HOOK is
// unset or "noop".
type Noop struct{}

func (Noop) Ingest(context.Context, string, wsmsg.SensorFrame) error { return nil }
func (Noop) Close() error                                            { return nil }
