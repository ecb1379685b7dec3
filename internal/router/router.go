// Package router implements the Connection Endpoint Router of spec section
// 4.1: one gin route per role, each upgrading to a WebSocket and handing the
// resulting Connection off to a per-role read loop. Grounded on
// api/internal/handlers/websocket.go's RegisterRoutes/SessionUpdates/
// readPump shape, generalized from one hub to five disjoint role handlers
// with no shared hub goroutine.
package router

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/fanout/orientation"
	"github.com/sensor-relay/relay/internal/ingest"
	"github.com/sensor-relay/relay/internal/relayerr"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/stats"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

const readIdleTimeout = 90 * time.Second

// Router wires the five endpoints of spec section 4.1 to the registry and
// downstream components.
type Router struct {
	registry      *connection.Registry
	sessions      *session.Manager
	pipeline      *ingest.Pipeline
	orientation   *orientation.Path
	bulk          *bulk.Batcher
	stats         *stats.Broadcaster
	queueCap      int
	slowDeadline  time.Duration
	batchInterval time.Duration
	maxBatchSize  int
	log           zerolog.Logger

	upgrader websocket.Upgrader
}

// New constructs a Router.
func New(
	registry *connection.Registry,
	sessions *session.Manager,
	pipeline *ingest.Pipeline,
	orientationPath *orientation.Path,
	batcher *bulk.Batcher,
	broadcaster *stats.Broadcaster,
	queueCap int,
	slowDeadline time.Duration,
	batchInterval time.Duration,
	maxBatchSize int,
	log zerolog.Logger,
) *Router {
	return &Router{
		registry:      registry,
		sessions:      sessions,
		pipeline:      pipeline,
		orientation:   orientationPath,
		bulk:          batcher,
		stats:         broadcaster,
		queueCap:      queueCap,
		slowDeadline:  slowDeadline,
		batchInterval: batchInterval,
		maxBatchSize:  maxBatchSize,
		log:           log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the five role endpoints named in spec section 4.1
// onto engine. Any other path, including a WebSocket upgrade attempt, is
// never upgraded: it falls through to the engine's NoRoute handler (see
// NoRoute, which answers 404 with the "unknown_path" reason), or to gin's
// default 404 when no NoRoute handler is installed.
func (rt *Router) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/pocket-parrot", rt.handleSender)
	engine.GET("/dashboard", rt.handleDashboard)
	engine.GET("/listener", rt.handleListener)
	engine.GET("/orientation", rt.handleOrientationListener)
	engine.GET("/bulk", rt.handleBulkListener)
}

func (rt *Router) upgrade(c *gin.Context) (*websocket.Conn, bool) {
	wsConn, err := rt.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rt.log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("websocket upgrade failed")
		return nil, false
	}
	return wsConn, true
}

func (rt *Router) newConnection(wsConn *websocket.Conn, role connection.Role, remoteAddr string) *connection.Connection {
	return connection.New(uuid.NewString(), role, wsConn, remoteAddr, rt.queueCap, rt.slowDeadline, rt.log)
}

// handleSender implements the sender endpoint (spec sections 4.1, 4.3, 4.4).
func (rt *Router) handleSender(c *gin.Context) {
	wsConn, ok := rt.upgrade(c)
	if !ok {
		return
	}
	conn := rt.newConnection(wsConn, connection.RoleSender, c.Request.RemoteAddr)
	rt.registry.Insert(conn)
	go conn.WritePump()

	if err := rt.sessions.Connect(conn); err != nil {
		rerr, _ := err.(*relayerr.RelayError)
		reason := relayerr.ReasonCapacityNoEvictable
		if rerr != nil {
			reason = rerr.Reason
		}
		conn.Close(reason)
		rt.registry.Remove(conn.ID)
		return
	}
	rt.stats.OnConnect(conn)

	rt.senderReadLoop(conn)

	rt.sessions.Disconnect(conn.ID)
	rt.registry.Remove(conn.ID)
	rt.stats.OnDisconnect(conn)
	conn.Close("client_closed")
}

func (rt *Router) senderReadLoop(conn *connection.Connection) {
	conn.Conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Touch()
		conn.Conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			return
		}
		conn.Touch()

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			rt.stats.OnError("malformed_json")
			continue
		}

		switch envelope.Type {
		case wsmsg.TypeHandshake:
			rt.handleHandshake(conn, raw)
		case wsmsg.TypeData:
			rt.handleData(conn, raw)
		default:
			rt.stats.OnError("unknown_message_type")
		}
	}
}

// handleHandshake records the opaque identity fields carried on an explicit
// "handshake" message. It never re-runs admission or promotion — those
// already ran at accept time in handleSender (spec section 9, Open
// Questions: accept time and handshake time are treated as equivalent for
// session transitions; a later handshake message only attaches identity).
func (rt *Router) handleHandshake(conn *connection.Connection, raw []byte) {
	var msg struct {
		Username string `json:"username"`
		DeviceID string `json:"deviceId"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		rt.stats.OnError("malformed_handshake")
		return
	}
	conn.SetIdentity(msg.Username, msg.DeviceID)
}

func (rt *Router) handleData(conn *connection.Connection, raw []byte) {
	var frame wsmsg.SensorFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		rt.stats.OnError("malformed_data")
		return
	}
	response := rt.pipeline.HandleData(conn, &frame)
	if response != nil {
		_ = conn.SendControl(response)
	}
}

// handleDashboard implements the dashboard endpoint (spec section 4.7): it
// receives telemetry events/snapshots and accepts an inbound "getStats" poll.
func (rt *Router) handleDashboard(c *gin.Context) {
	wsConn, ok := rt.upgrade(c)
	if !ok {
		return
	}
	conn := rt.newConnection(wsConn, connection.RoleDashboard, c.Request.RemoteAddr)
	rt.registry.Insert(conn)
	go conn.WritePump()
	rt.stats.OnConnect(conn)

	rt.passiveReadLoop(conn, func(envelopeType string) {
		if envelopeType == wsmsg.TypeGetStats {
			rt.stats.BroadcastSnapshot()
		}
	})

	rt.registry.Remove(conn.ID)
	rt.stats.OnDisconnect(conn)
	conn.Close("client_closed")
}

// handleListener implements the passive listener endpoint (spec section 4.1).
func (rt *Router) handleListener(c *gin.Context) {
	wsConn, ok := rt.upgrade(c)
	if !ok {
		return
	}
	conn := rt.newConnection(wsConn, connection.RoleListener, c.Request.RemoteAddr)
	rt.registry.Insert(conn)
	go conn.WritePump()
	rt.sendJSON(conn, wsmsg.ListenerConnected{Type: wsmsg.TypeListenerConnected, Timestamp: time.Now().UTC()})
	rt.stats.OnConnect(conn)

	rt.passiveReadLoop(conn, nil)

	rt.registry.Remove(conn.ID)
	rt.stats.OnDisconnect(conn)
	conn.Close("client_closed")
}

// handleOrientationListener implements the orientation_listener endpoint
// (spec section 4.5).
func (rt *Router) handleOrientationListener(c *gin.Context) {
	wsConn, ok := rt.upgrade(c)
	if !ok {
		return
	}
	conn := rt.newConnection(wsConn, connection.RoleOrientationListener, c.Request.RemoteAddr)
	rt.registry.Insert(conn)
	go conn.WritePump()
	rt.sendJSON(conn, wsmsg.OrientationListenerConnected{Type: wsmsg.TypeOrientationConnected, Timestamp: time.Now().UTC()})
	rt.stats.OnConnect(conn)

	rt.passiveReadLoop(conn, nil)

	rt.registry.Remove(conn.ID)
	rt.stats.OnDisconnect(conn)
	conn.Close("client_closed")
}

// handleBulkListener implements the bulk_listener endpoint (spec section
// 4.6), registering/unregistering with the batcher's ticker start/stop.
func (rt *Router) handleBulkListener(c *gin.Context) {
	wsConn, ok := rt.upgrade(c)
	if !ok {
		return
	}
	conn := rt.newConnection(wsConn, connection.RoleBulkListener, c.Request.RemoteAddr)
	rt.registry.Insert(conn)
	go conn.WritePump()
	rt.sendJSON(conn, wsmsg.BulkListenerConnected{
		Type:          wsmsg.TypeBulkListenerConnected,
		Timestamp:     time.Now().UTC(),
		BatchInterval: rt.batchInterval.Milliseconds(),
		MaxBatchSize:  rt.maxBatchSize,
	})
	rt.bulk.OnListenerJoin()
	rt.stats.OnConnect(conn)

	rt.passiveReadLoop(conn, nil)

	rt.bulk.OnListenerLeave()
	rt.registry.Remove(conn.ID)
	rt.stats.OnDisconnect(conn)
	conn.Close("client_closed")
}

// passiveReadLoop drains (and discards, except for onMessage's hook)
// inbound frames from a non-sender connection, just enough to notice
// disconnects and react to control messages like "getStats". onMessage may
// be nil.
func (rt *Router) passiveReadLoop(conn *connection.Connection, onMessage func(envelopeType string)) {
	conn.Conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Touch()
		conn.Conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return nil
	})

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			return
		}
		conn.Touch()
		if onMessage == nil {
			continue
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		onMessage(envelope.Type)
	}
}

func (rt *Router) sendJSON(conn *connection.Connection, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = conn.SendControl(payload)
}

// unknownPathHandler can be mounted as gin's NoRoute handler so that an
// HTTP (non-WebSocket) request to an unmapped path gets the taxonomy
// reason code back in its body, matching spec section 4.1's
// "unknown_path" rejection.
func unknownPathHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": relayerr.ReasonUnknownPath, "path": strings.TrimSuffix(c.Request.URL.Path, "/")})
}

// NoRoute returns the handler RegisterRoutes' caller should install with
// engine.NoRoute.
func NoRoute() gin.HandlerFunc { return unknownPathHandler }
