// Package ingest implements the Sensor Ingest Pipeline of spec section
// 4.4: validates inbound sender frames, splits accepted frames into the
// orientation fast path and the bulk batcher, invokes the ingest hook,
// and acknowledges the sender.
package ingest

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/fanout/orientation"
	"github.com/sensor-relay/relay/internal/hook"
	"github.com/sensor-relay/relay/internal/relayerr"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

// Stats is the subset of the telemetry broadcaster the pipeline needs to
// drive (spec section 4.7's data_received / counters), kept as a small
// interface so ingest does not import the stats package directly.
type Stats interface {
	OnData(senderID string, pointNumber int64)
}

// Pipeline wires one sender's accepted frames into both fan-out paths.
type Pipeline struct {
	sessions    *session.Manager
	registry    *connection.Registry
	orientation *orientation.Path
	bulk        *bulk.Batcher
	stats       Stats
	hook        hook.Hook
	log         zerolog.Logger
}

// New constructs a Pipeline. registry is used to broadcast the unsplit
// sensor_data stream to passive listeners (spec section 4.1's /listener
// path, GLOSSARY "unsplit sensor_data stream").
func New(sessions *session.Manager, registry *connection.Registry, orientationPath *orientation.Path, batcher *bulk.Batcher, stats Stats, h hook.Hook, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		sessions:    sessions,
		registry:    registry,
		orientation: orientationPath,
		bulk:        batcher,
		stats:       stats,
		hook:        h,
		log:         log,
	}
}

// HandleData processes one raw "data" frame from a sender connection
// (spec section 4.4). It always returns a response payload to send back
// to the sender (ack or rejected) — the caller (router) is responsible
// for delivering it.
func (p *Pipeline) HandleData(conn *connection.Connection, frame *wsmsg.SensorFrame) []byte {
	if !p.sessions.IsActive(conn.ID) {
		return rejectedPayload(relayerr.ReasonNotActive)
	}

	if err := validate(frame); err != nil {
		return rejectedPayload(err.Reason)
	}

	n := conn.IncrementDataCount()
	conn.Touch()
	p.sessions.OnFrame(conn.ID)

	userID := conn.ID
	username := conn.Username()

	if frame.Orientation != nil {
		if frame.Orientation.Compass == nil {
			compass := math.Round(frame.Orientation.Alpha)
			frame.Orientation.Compass = &compass
		}
		p.orientation.Dispatch(wsmsg.OrientationMessage{
			Type:        wsmsg.TypeOrientationData,
			Timestamp:   frame.Timestamp,
			UserID:      userID,
			Username:    username,
			Orientation: *frame.Orientation,
		})
	}

	if hasBulkContent(frame) {
		p.bulk.Enqueue(wsmsg.BulkItem{
			Timestamp:       frame.Timestamp,
			UserID:          userID,
			Username:        username,
			GPS:             frame.GPS,
			Motion:          frame.Motion,
			Weather:         frame.Weather,
			ObjectsDetected: frame.ObjectsDetected,
			PhotoBase64:     frame.PhotoBase64,
			AudioBase64:     frame.AudioBase64,
		})
	}

	p.broadcastSensorData(userID, username, *frame)

	p.stats.OnData(userID, n)

	go p.invokeHook(userID, *frame)

	return ackPayload(frame.ID)
}

// invokeHook runs the ingest hook off the critical path; errors are
// caught and logged, never surfaced to the sender (spec section 4.4 step
// 5, section 7's "Ingest-hook errors").
func (p *Pipeline) invokeHook(senderID string, frame wsmsg.SensorFrame) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("ingest hook panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.hook.Ingest(ctx, senderID, frame); err != nil {
		p.log.Warn().Err(err).Str("sender_id", senderID).Msg("ingest hook failed")
	}
}

// broadcastSensorData delivers the unsplit frame to every passive listener
// (spec section 4.1's /listener path, GLOSSARY "receiving the unsplit
// sensor_data stream") — unlike the orientation and bulk paths, this
// stream is never filtered, batched, or rate-limited.
func (p *Pipeline) broadcastSensorData(userID, username string, frame wsmsg.SensorFrame) {
	if p.registry.CountByRole(connection.RoleListener) == 0 {
		return
	}
	payload, err := json.Marshal(wsmsg.SensorData{
		Type:      wsmsg.TypeSensorData,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Username:  username,
		Frame:     frame,
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to marshal sensor_data")
		return
	}
	p.registry.Broadcast(connection.RoleListener, payload)
}

func hasBulkContent(f *wsmsg.SensorFrame) bool {
	return f.GPS != nil || f.Motion != nil || f.Weather != nil ||
		len(f.ObjectsDetected) > 0 || f.PhotoBase64 != "" || f.AudioBase64 != ""
}

// validate applies the hard rejections of spec section 4.4.
func validate(f *wsmsg.SensorFrame) *relayerr.RelayError {
	if f.Timestamp == "" {
		return relayerr.New(relayerr.KindProtocol, "missing_timestamp")
	}
	if !f.HasAnySensorField() {
		return relayerr.New(relayerr.KindProtocol, "no_sensor_field")
	}
	if o := f.Orientation; o != nil {
		if !finite(o.Alpha) || o.Alpha < 0 || o.Alpha >= 360 {
			return relayerr.New(relayerr.KindProtocol, "orientation_alpha_out_of_range")
		}
		if !finite(o.Beta) || o.Beta < -180 || o.Beta > 180 {
			return relayerr.New(relayerr.KindProtocol, "orientation_beta_out_of_range")
		}
		if !finite(o.Gamma) || o.Gamma < -90 || o.Gamma > 90 {
			return relayerr.New(relayerr.KindProtocol, "orientation_gamma_out_of_range")
		}
	}
	if g := f.GPS; g != nil {
		if !finite(g.Lat) || !finite(g.Lon) || !finite(g.Accuracy) {
			return relayerr.New(relayerr.KindProtocol, "gps_non_finite")
		}
	}
	if mo := f.Motion; mo != nil {
		if !finite(mo.AX) || !finite(mo.AY) || !finite(mo.AZ) {
			return relayerr.New(relayerr.KindProtocol, "motion_non_finite")
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func ackPayload(received string) []byte {
	payload, err := json.Marshal(wsmsg.Ack{
		Type:      wsmsg.TypeAck,
		Timestamp: time.Now().UTC(),
		Received:  received,
	})
	if err != nil {
		return nil
	}
	return payload
}

func rejectedPayload(reason string) []byte {
	payload, err := json.Marshal(wsmsg.Rejected{
		Type:      wsmsg.TypeRejected,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
	if err != nil {
		return nil
	}
	return payload
}
