// Package connection models a single live WebSocket connection and its
// bounded outbound write queue. The shape is generalized from
// api/internal/websocket/hub.go's Client and agent_hub.go's
// AgentConnection: one reader goroutine and one dedicated writer goroutine
// per connection, communicating through a bounded channel, so a slow
// socket never blocks the rest of the server (spec section 5).
package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Role identifies which of the five endpoints a connection belongs to
// (spec section 3).
type Role string

const (
	RoleSender              Role = "sender"
	RoleDashboard           Role = "dashboard"
	RoleListener            Role = "listener"
	RoleOrientationListener Role = "orientation_listener"
	RoleBulkListener        Role = "bulk_listener"
)

// Policy selects the back-pressure behavior applied on a full write queue
// (spec section 5).
type Policy int

const (
	// PolicyDropOldest discards the oldest queued message to make room for
	// the newest one. Used for orientation listeners, where staleness
	// matters more than completeness.
	PolicyDropOldest Policy = iota

	// PolicyCloseOnDeadline drops the newest message but starts a clock;
	// once the queue has stayed full past the slow-consumer deadline the
	// connection is closed. Used for dashboards, passive listeners, and
	// bulk listeners.
	PolicyCloseOnDeadline

	// PolicyBlockWithDeadline blocks the caller until there is room or the
	// deadline elapses. Used for the small, infrequent control messages
	// sent to senders.
	PolicyBlockWithDeadline
)

// DefaultPolicy returns the back-pressure policy spec section 5 assigns to
// each role.
func (r Role) DefaultPolicy() Policy {
	switch r {
	case RoleOrientationListener:
		return PolicyDropOldest
	case RoleSender:
		return PolicyBlockWithDeadline
	default:
		return PolicyCloseOnDeadline
	}
}

// Errors returned by Send/SendWithPolicy. Callers decide what to do with
// them; Connection itself never closes on its own initiative except via
// an explicit Close call.
var (
	ErrClosed               = errors.New("connection: closed")
	ErrSlowConsumerDeadline = errors.New("connection: slow consumer deadline exceeded")
	ErrBackpressureDropped  = errors.New("connection: message dropped under backpressure")
	ErrSlowControlChannel   = errors.New("connection: slow control channel")
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Connection is a single live bidirectional WebSocket channel (spec
// section 3's Connection entity). Role is immutable after construction.
type Connection struct {
	ID          string
	Role        Role
	ConnectedAt time.Time
	RemoteAddr  string

	// Conn is the underlying transport. The reader loop (owned by the
	// router, not this package) reads from it directly; only the writer
	// goroutine started by WritePump writes to it.
	Conn *websocket.Conn

	writeCh      chan []byte
	closeCh      chan struct{}
	closeOnce    sync.Once
	slowDeadline time.Duration
	log          zerolog.Logger

	mu             sync.RWMutex
	lastActivityAt time.Time
	dataCount      int64
	dropped        int64
	slowSince      time.Time
	closed         bool
	closeReason    string
	username       string
	deviceID       string
}

// New constructs a Connection. queueCap bounds the write queue
// (WRITE_QUEUE_CAP); slowDeadline is SLOW_CONSUMER_DEADLINE.
func New(id string, role Role, wsConn *websocket.Conn, remoteAddr string, queueCap int, slowDeadline time.Duration, log zerolog.Logger) *Connection {
	now := time.Now()
	return &Connection{
		ID:             id,
		Role:           role,
		ConnectedAt:    now,
		RemoteAddr:     remoteAddr,
		Conn:           wsConn,
		writeCh:        make(chan []byte, queueCap),
		closeCh:        make(chan struct{}),
		slowDeadline:   slowDeadline,
		log:            log,
		lastActivityAt: now,
	}
}

// Send enqueues payload using the role's default back-pressure policy.
func (c *Connection) Send(payload []byte) error {
	return c.SendWithPolicy(payload, c.Role.DefaultPolicy())
}

// SendControl enqueues a control-plane message (welcome, promoted,
// observer_mode, sender_changed, evicted, ack, rejected, server_shutdown)
// using the block-with-deadline policy regardless of role, matching spec
// section 5's "sender: control messages are small and infrequent; block
// briefly up to a fixed deadline" — the same treatment is appropriate for
// any role's own control-plane traffic.
func (c *Connection) SendControl(payload []byte) error {
	return c.SendWithPolicy(payload, PolicyBlockWithDeadline)
}

// SendWithPolicy enqueues payload using an explicit policy.
func (c *Connection) SendWithPolicy(payload []byte, policy Policy) error {
	switch policy {
	case PolicyDropOldest:
		return c.sendDropOldest(payload)
	case PolicyBlockWithDeadline:
		return c.sendBlockWithDeadline(payload)
	default:
		return c.sendCloseOnDeadline(payload)
	}
}

func (c *Connection) sendDropOldest(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for {
		select {
		case c.writeCh <- payload:
			return nil
		default:
		}
		select {
		case <-c.writeCh:
			c.dropped++
		default:
			// writer drained concurrently; loop retries the send.
		}
	}
}

func (c *Connection) sendCloseOnDeadline(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	select {
	case c.writeCh <- payload:
		c.slowSince = time.Time{}
		c.mu.Unlock()
		return nil
	default:
	}
	if c.slowSince.IsZero() {
		c.slowSince = time.Now()
	}
	since := c.slowSince
	c.mu.Unlock()

	if time.Since(since) > c.slowDeadline {
		return ErrSlowConsumerDeadline
	}
	return ErrBackpressureDropped
}

// sendBlockWithDeadline holds no lock while blocking; it only checks
// c.closed up front and otherwise relies on closeCh to unblock it, so
// Close never has to wait on a slow sender.
func (c *Connection) sendBlockWithDeadline(payload []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case c.writeCh <- payload:
		return nil
	default:
	}

	select {
	case c.writeCh <- payload:
		return nil
	case <-time.After(c.slowDeadline):
		return ErrSlowControlChannel
	case <-c.closeCh:
		return ErrClosed
	}
}

// Close marks the connection closed and stops its writer goroutine. It is
// safe to call multiple times and from multiple goroutines.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closeCh)
		c.Conn.Close()
	})
}

// CloseReason returns the reason passed to Close, or "" if still open.
func (c *Connection) CloseReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeReason
}

// WritePump drains the write queue to the socket, sending periodic pings
// to detect a dead peer. It returns when the connection is closed or the
// socket errors. Grounded on api/internal/websocket/hub.go's writePump.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.writeCh:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close("write_error")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("write_error")
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// Touch records inbound activity. LastActivityAt reports it as a sender's
// lastData in the session snapshot; the read idle timeout and the session
// manager's inactivity check keep their own clocks.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}

// LastActivityAt returns the last time Touch was called.
func (c *Connection) LastActivityAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivityAt
}

// IncrementDataCount increments the sender's accepted-frame counter.
func (c *Connection) IncrementDataCount() int64 {
	c.mu.Lock()
	c.dataCount++
	n := c.dataCount
	c.mu.Unlock()
	return n
}

// DataCount returns the number of accepted frames (senders only).
func (c *Connection) DataCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataCount
}

// Dropped returns the number of messages dropped under the drop-oldest
// policy (orientation listeners only).
func (c *Connection) Dropped() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// SetIdentity records the opaque username/deviceId sent at handshake.
// Neither field is validated or required to be unique (spec section 9,
// Open Questions).
func (c *Connection) SetIdentity(username, deviceID string) {
	c.mu.Lock()
	c.username = username
	c.deviceID = deviceID
	c.mu.Unlock()
}

// Username returns the opaque username recorded at handshake, if any.
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// DeviceID returns the opaque device id recorded at handshake, if any.
func (c *Connection) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
