package ingest

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/fanout/orientation"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

func wiredPassiveListener(t *testing.T, registry *connection.Registry) *websocket.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	clientWS := websocket.NewConn(client, false, 1024, 1024)
	serverWS := websocket.NewConn(server, true, 1024, 1024)

	c := connection.New("listener-1", connection.RoleListener, clientWS, "", 16, time.Second, zerolog.Nop())
	go c.WritePump()
	registry.Insert(c)
	return serverWS
}

type fakeStats struct {
	calls int
}

func (f *fakeStats) OnData(string, int64) { f.calls++ }

type fakeHook struct {
	ingested int
}

func (f *fakeHook) Ingest(context.Context, string, wsmsg.SensorFrame) error {
	f.ingested++
	return nil
}
func (f *fakeHook) Close() error { return nil }

func newPipeline(t *testing.T) (*Pipeline, *session.Manager, *fakeStats) {
	pipeline, sessions, stats, _ := newPipelineWithRegistry(t)
	return pipeline, sessions, stats
}

func newPipelineWithRegistry(t *testing.T) (*Pipeline, *session.Manager, *fakeStats, *connection.Registry) {
	t.Helper()
	registry := connection.NewRegistry()
	sessions := session.New(4, 0, zerolog.Nop())
	orientationPath := orientation.New(registry, zerolog.Nop())
	batcher := bulk.New(registry, 10, time.Hour, zerolog.Nop())
	go batcher.Run()
	t.Cleanup(batcher.Stop)

	stats := &fakeStats{}
	pipeline := New(sessions, registry, orientationPath, batcher, stats, &fakeHook{}, zerolog.Nop())
	return pipeline, sessions, stats, registry
}

func activeSender(t *testing.T, sessions *session.Manager, id string) *connection.Connection {
	t.Helper()
	c := connection.New(id, connection.RoleSender, nil, "", 8, time.Second, zerolog.Nop())
	require.NoError(t, sessions.Connect(c))
	return c
}

func TestHandleDataRejectsNonActiveSender(t *testing.T) {
	pipeline, sessions, _ := newPipeline(t)
	_ = activeSender(t, sessions, "s1")
	observer := connection.New("s2", connection.RoleSender, nil, "", 8, time.Second, zerolog.Nop())
	require.NoError(t, sessions.Connect(observer))

	frame := &wsmsg.SensorFrame{Timestamp: "2026-01-01T00:00:00Z", GPS: &wsmsg.GPS{Lat: 1, Lon: 2}}
	resp := pipeline.HandleData(observer, frame)

	var rejected wsmsg.Rejected
	require.NoError(t, json.Unmarshal(resp, &rejected))
	assert.Equal(t, "not_active", rejected.Reason)
}

func TestHandleDataRejectsFrameWithNoSensorField(t *testing.T) {
	pipeline, sessions, _ := newPipeline(t)
	sender := activeSender(t, sessions, "s1")

	frame := &wsmsg.SensorFrame{Timestamp: "2026-01-01T00:00:00Z"}
	resp := pipeline.HandleData(sender, frame)

	var rejected wsmsg.Rejected
	require.NoError(t, json.Unmarshal(resp, &rejected))
	assert.Equal(t, "no_sensor_field", rejected.Reason)
}

func TestHandleDataRejectsOutOfRangeOrientation(t *testing.T) {
	pipeline, sessions, _ := newPipeline(t)
	sender := activeSender(t, sessions, "s1")

	frame := &wsmsg.SensorFrame{
		Timestamp:   "2026-01-01T00:00:00Z",
		Orientation: &wsmsg.Orientation{Alpha: 400, Beta: 0, Gamma: 0},
	}
	resp := pipeline.HandleData(sender, frame)

	var rejected wsmsg.Rejected
	require.NoError(t, json.Unmarshal(resp, &rejected))
	assert.Equal(t, "orientation_alpha_out_of_range", rejected.Reason)
}

func TestHandleDataAcceptsValidFrameAndDerivesCompass(t *testing.T) {
	pipeline, sessions, stats := newPipeline(t)
	sender := activeSender(t, sessions, "s1")

	frame := &wsmsg.SensorFrame{
		ID:          "frame-1",
		Timestamp:   "2026-01-01T00:00:00Z",
		Orientation: &wsmsg.Orientation{Alpha: 90.4, Beta: 10, Gamma: -10},
	}
	resp := pipeline.HandleData(sender, frame)

	var ack wsmsg.Ack
	require.NoError(t, json.Unmarshal(resp, &ack))
	assert.Equal(t, wsmsg.TypeAck, ack.Type)
	assert.Equal(t, "frame-1", ack.Received)
	assert.Equal(t, 1, stats.calls)
	assert.EqualValues(t, 1, sender.DataCount())
	require.NotNil(t, frame.Orientation.Compass)
	assert.Equal(t, 90.0, *frame.Orientation.Compass)
}

func TestHandleDataBroadcastsUnsplitFrameToListeners(t *testing.T) {
	pipeline, sessions, _, registry := newPipelineWithRegistry(t)
	sender := activeSender(t, sessions, "s1")
	srv := wiredPassiveListener(t, registry)

	frame := &wsmsg.SensorFrame{
		ID:          "frame-1",
		Timestamp:   "2026-01-01T00:00:00Z",
		Orientation: &wsmsg.Orientation{Alpha: 90, Beta: 10, Gamma: -10},
		GPS:         &wsmsg.GPS{Lat: 1, Lon: 2, Accuracy: 5},
	}
	pipeline.HandleData(sender, frame)

	srv.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := srv.ReadMessage()
	require.NoError(t, err)

	var data wsmsg.SensorData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, wsmsg.TypeSensorData, data.Type)
	assert.Equal(t, "s1", data.UserID)
	assert.Equal(t, "frame-1", data.Frame.ID)
	assert.NotNil(t, data.Frame.GPS)
	assert.Equal(t, 1.0, data.Frame.GPS.Lat)
}

func TestHandleDataRejectsNonFiniteGPS(t *testing.T) {
	pipeline, sessions, _ := newPipeline(t)
	sender := activeSender(t, sessions, "s1")

	frame := &wsmsg.SensorFrame{
		Timestamp: "2026-01-01T00:00:00Z",
		GPS:       &wsmsg.GPS{Lat: math.NaN(), Lon: 1, Accuracy: 1},
	}
	resp := pipeline.HandleData(sender, frame)

	var rejected wsmsg.Rejected
	require.NoError(t, json.Unmarshal(resp, &rejected))
	assert.Equal(t, "gps_non_finite", rejected.Reason)
}
