// Package orientation implements the Orientation Fast Path of spec
// section 4.5: every orientation-bearing frame is forwarded immediately
// to every registered orientation listener, with no queueing or
// coalescing of its own — back-pressure is handled entirely by each
// listener Connection's drop-oldest policy (spec section 5).
package orientation

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

// Path fans orientation messages out to the orientation_listener set.
type Path struct {
	registry *connection.Registry
	log      zerolog.Logger
}

// New constructs a Path bound to registry.
func New(registry *connection.Registry, log zerolog.Logger) *Path {
	return &Path{registry: registry, log: log}
}

// Dispatch takes a snapshot of the current orientation_listener set and
// attempts an immediate, non-blocking (drop-oldest-on-full) send to each
// one. It never queues, coalesces, or retries (spec section 4.5).
func (p *Path) Dispatch(msg wsmsg.OrientationMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to marshal orientation message")
		return
	}
	for _, listener := range p.registry.Snapshot(connection.RoleOrientationListener) {
		if err := listener.Send(payload); err != nil && err != connection.ErrClosed {
			p.log.Debug().Err(err).Str("conn_id", listener.ID).Msg("orientation send dropped")
		}
	}
}
