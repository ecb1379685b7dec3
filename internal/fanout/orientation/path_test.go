package orientation

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

// wiredConnection returns a Connection whose WritePump drains into a real
// in-memory socket pair, plus the server-side *websocket.Conn a test can
// read back from.
func wiredConnection(t *testing.T, id string, role connection.Role) (*connection.Connection, *websocket.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	clientWS := websocket.NewConn(client, false, 1024, 1024)
	serverWS := websocket.NewConn(server, true, 1024, 1024)

	c := connection.New(id, role, clientWS, "", 4, time.Second, zerolog.Nop())
	go c.WritePump()
	return c, serverWS
}

func TestDispatchFansOutToAllListeners(t *testing.T) {
	registry := connection.NewRegistry()
	a, serverA := wiredConnection(t, "a", connection.RoleOrientationListener)
	b, serverB := wiredConnection(t, "b", connection.RoleOrientationListener)
	registry.Insert(a)
	registry.Insert(b)

	p := New(registry, zerolog.Nop())
	p.Dispatch(wsmsg.OrientationMessage{Type: wsmsg.TypeOrientationData, UserID: "sender-1"})

	for _, srv := range []*websocket.Conn{serverA, serverB} {
		srv.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := srv.ReadMessage()
		require.NoError(t, err)
		var msg wsmsg.OrientationMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "sender-1", msg.UserID)
	}
}

func TestDispatchIgnoresOtherRoles(t *testing.T) {
	registry := connection.NewRegistry()
	dash, serverDash := wiredConnection(t, "d", connection.RoleDashboard)
	registry.Insert(dash)

	p := New(registry, zerolog.Nop())
	p.Dispatch(wsmsg.OrientationMessage{Type: wsmsg.TypeOrientationData, UserID: "sender-1"})

	serverDash.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := serverDash.ReadMessage()
	assert.Error(t, err, "a dashboard connection must never receive orientation fast-path traffic")
}
