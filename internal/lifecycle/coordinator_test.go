package lifecycle

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/stats"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

func wiredConnection(t *testing.T, role connection.Role) (*connection.Connection, *websocket.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	clientWS := websocket.NewConn(client, false, 1024, 1024)
	serverWS := websocket.NewConn(server, true, 1024, 1024)

	c := connection.New("c1", role, clientWS, "", 8, time.Second, zerolog.Nop())
	go c.WritePump()
	return c, serverWS
}

func TestDrainBroadcastsServerShutdownAndClosesConnections(t *testing.T) {
	registry := connection.NewRegistry()
	sessions := session.New(4, 0, zerolog.Nop())
	batcher := bulk.New(registry, 10, time.Hour, zerolog.Nop())
	go batcher.Run()
	t.Cleanup(batcher.Stop)
	broadcaster := stats.New(registry, sessions, batcher, 4, prometheus.NewRegistry(), zerolog.Nop())

	conn, srv := wiredConnection(t, connection.RoleListener)
	registry.Insert(conn)

	co := New(registry, sessions, batcher, broadcaster, time.Hour, time.Second, zerolog.Nop())
	co.Start()

	httpSrv := &http.Server{Handler: http.NewServeMux()}
	co.Drain(httpSrv)

	srv.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := srv.ReadMessage()
	require.NoError(t, err)

	var msg wsmsg.ServerShutdown
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, wsmsg.TypeServerShutdown, msg.Type)

	assert.True(t, conn.IsClosed())
	assert.Equal(t, "server_shutdown", conn.CloseReason())
}
