// Package relayerr provides the relay's error taxonomy, modeled on
// api/internal/errors/errors.go's AppError but adapted to a WebSocket
// server's needs: a Kind from the taxonomy, a Reason usable as a close
// reason on the wire, plus an
// optional wrapped cause for logs.
package relayerr

import "fmt"

// Error kinds from spec section 7.
const (
	KindProtocol     = "protocol_error"
	KindAdmission    = "admission_error"
	KindTransport    = "transport_error"
	KindBackpressure = "backpressure_error"
	KindIngestHook   = "ingest_hook_error"
	KindFatal        = "fatal_error"
)

// Close reason codes sent to clients (spec sections 4.3, 4.4, 5, 7).
const (
	ReasonUnknownPath            = "unknown_path"
	ReasonCapacityNoEvictable    = "capacity_reached_no_evictable"
	ReasonEvicted                = "evicted"
	ReasonSlowConsumer           = "slow_consumer"
	ReasonSlowControlChannel     = "slow_control_channel"
	ReasonNotActive              = "not_active"
	ReasonServerShutdown         = "server_shutdown"
	ReasonProtocolViolation      = "protocol_violation"
)

// RelayError is a taxonomy-tagged error carrying an optional wrapped cause.
type RelayError struct {
	Kind    string
	Reason  string
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *RelayError) Unwrap() error { return e.Cause }

// New builds a RelayError with no wrapped cause.
func New(kind, reason string) *RelayError {
	return &RelayError{Kind: kind, Reason: reason}
}

// Wrap builds a RelayError wrapping cause.
func Wrap(kind, reason string, cause error) *RelayError {
	return &RelayError{Kind: kind, Reason: reason, Cause: cause}
}
