package router

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/fanout/orientation"
	"github.com/sensor-relay/relay/internal/hook"
	"github.com/sensor-relay/relay/internal/ingest"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/stats"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := connection.NewRegistry()
	sessions := session.New(4, 0, zerolog.Nop())
	orientationPath := orientation.New(registry, zerolog.Nop())
	batcher := bulk.New(registry, 10, time.Hour, zerolog.Nop())
	go batcher.Run()
	t.Cleanup(batcher.Stop)

	broadcaster := stats.New(registry, sessions, batcher, 4, prometheus.NewRegistry(), zerolog.Nop())
	pipeline := ingest.New(sessions, registry, orientationPath, batcher, broadcaster, hook.Noop{}, zerolog.Nop())
	rt := New(registry, sessions, pipeline, orientationPath, batcher, broadcaster, 16, 2*time.Second, time.Hour, 10, zerolog.Nop())

	engine := gin.New()
	engine.NoRoute(NoRoute())
	rt.RegisterRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestListenerEndpointSendsConnectedEvent(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv, "/listener")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsmsg.ListenerConnected
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, wsmsg.TypeListenerConnected, msg.Type)
}

func TestSenderEndpointReceivesWelcomeThenPromoted(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv, "/pocket-parrot")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))

	_, raw1, err := conn.ReadMessage()
	require.NoError(t, err)
	var welcome wsmsg.Welcome
	require.NoError(t, json.Unmarshal(raw1, &welcome))
	assert.Equal(t, wsmsg.TypeWelcome, welcome.Type)

	_, raw2, err := conn.ReadMessage()
	require.NoError(t, err)
	var promoted wsmsg.Promoted
	require.NoError(t, json.Unmarshal(raw2, &promoted))
	assert.Equal(t, wsmsg.TypePromoted, promoted.Type)
}

func TestBulkListenerEndpointEchoesBatchConfig(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, srv, "/bulk")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsmsg.BulkListenerConnected
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, wsmsg.TypeBulkListenerConnected, msg.Type)
	assert.EqualValues(t, 10, msg.MaxBatchSize)
}

func TestUnknownHTTPPathIsRejected(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/not-a-real-endpoint")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}
