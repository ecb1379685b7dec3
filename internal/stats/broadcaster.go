// Package stats implements the Telemetry & Stats Broadcaster of spec
// section 4.7: connect/disconnect/data-rate counters, periodic
// StatsSnapshot broadcast to dashboards and passive listeners, and a
// Prometheus export of the same counters for an operator's scrape
// target. Grounded on api/internal/handlers/websocket.go's
// sendPeriodicMetrics ticker-plus-broadcast idiom.
package stats

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

// Broadcaster owns the process-wide telemetry counters named in spec
// section 4.7 and pushes StatsSnapshot / event messages to dashboards and
// passive listeners.
type Broadcaster struct {
	registry *connection.Registry
	sessions *session.Manager
	batcher  *bulk.Batcher
	maxUsers int
	log      zerolog.Logger
	start    time.Time

	totalDataPoints    int64
	dataPointsInWindow int64
	lastDroppedTotal   int64

	metricActiveSenders    prometheus.Gauge
	metricTotalDataPoints  prometheus.Counter
	metricBulkQueueSize    prometheus.Gauge
	metricOrientationConns prometheus.Gauge
	metricBulkConns        prometheus.Gauge
	metricListenerConns    prometheus.Gauge
	metricDashboardConns   prometheus.Gauge
	metricDroppedOrient    prometheus.Counter
}

// New constructs a Broadcaster and registers its Prometheus metrics with
// reg (typically prometheus.DefaultRegisterer).
func New(registry *connection.Registry, sessions *session.Manager, batcher *bulk.Batcher, maxUsers int, reg prometheus.Registerer, log zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		sessions: sessions,
		batcher:  batcher,
		maxUsers: maxUsers,
		log:      log,
		start:    time.Now(),

		metricActiveSenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_senders", Help: "Number of currently registered sender connections.",
		}),
		metricTotalDataPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_total_data_points", Help: "Total accepted sensor data points.",
		}),
		metricBulkQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_bulk_queue_size", Help: "Current length of the bulk batcher queue.",
		}),
		metricOrientationConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_orientation_listeners", Help: "Number of connected orientation listeners.",
		}),
		metricBulkConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_bulk_listeners", Help: "Number of connected bulk listeners.",
		}),
		metricListenerConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_passive_listeners", Help: "Number of connected passive listeners.",
		}),
		metricDashboardConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_dashboards", Help: "Number of connected dashboards.",
		}),
		metricDroppedOrient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_dropped_orientation_total", Help: "Orientation messages dropped under the drop-oldest backpressure policy.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			b.metricActiveSenders, b.metricTotalDataPoints, b.metricBulkQueueSize,
			b.metricOrientationConns, b.metricBulkConns, b.metricListenerConns, b.metricDashboardConns,
			b.metricDroppedOrient,
		)
	}
	return b
}

// OnConnect emits user_connected to dashboards and sends a fresh snapshot
// to the newly connected dashboard or passive listener (spec section 4.7).
// Stats are recomputed and rebroadcast on every such event.
func (b *Broadcaster) OnConnect(conn *connection.Connection) {
	b.broadcastEvent(wsmsg.TypeUserConnected, conn.ID, 0, "")
	if conn.Role == connection.RoleDashboard || conn.Role == connection.RoleListener {
		b.sendSnapshotTo(conn)
	}
	b.refreshGauges()
	b.BroadcastSnapshot()
}

// OnDisconnect emits user_disconnected to dashboards and rebroadcasts a
// recomputed snapshot (spec section 4.7).
func (b *Broadcaster) OnDisconnect(conn *connection.Connection) {
	b.broadcastEvent(wsmsg.TypeUserDisconnected, conn.ID, 0, "")
	b.refreshGauges()
	b.BroadcastSnapshot()
}

// OnData emits data_received, advances the monotonic counters, and
// rebroadcasts a recomputed snapshot (spec section 4.7). It implements
// ingest.Stats.
func (b *Broadcaster) OnData(senderID string, pointNumber int64) {
	atomic.AddInt64(&b.totalDataPoints, 1)
	atomic.AddInt64(&b.dataPointsInWindow, 1)
	b.metricTotalDataPoints.Inc()
	b.broadcastEvent(wsmsg.TypeDataReceived, senderID, pointNumber, "")
	b.refreshGauges()
	b.BroadcastSnapshot()
}

// OnError emits an error event to dashboards and rebroadcasts a recomputed
// snapshot (spec section 4.7).
func (b *Broadcaster) OnError(message string) {
	b.broadcastEvent(wsmsg.TypeError, "", 0, message)
	b.refreshGauges()
	b.BroadcastSnapshot()
}

// ResetWindow resets the rolling per-minute data-rate counter. Called by
// the lifecycle coordinator's minute cron tick.
func (b *Broadcaster) ResetWindow() {
	atomic.StoreInt64(&b.dataPointsInWindow, 0)
}

// BroadcastSnapshot recomputes and pushes a StatsSnapshot to every
// dashboard and passive listener. Called on every telemetry event and on
// the periodic minute tick (spec section 4.7).
func (b *Broadcaster) BroadcastSnapshot() {
	snap := b.snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to marshal stats snapshot")
		return
	}
	b.registry.Broadcast(connection.RoleDashboard, payload)
	b.registry.Broadcast(connection.RoleListener, payload)
}

func (b *Broadcaster) sendSnapshotTo(conn *connection.Connection) {
	snap := b.snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (b *Broadcaster) snapshot() wsmsg.StatsSnapshot {
	sess := b.sessions.Snapshot()
	activeUsers := sess.SenderCount
	return wsmsg.StatsSnapshot{
		Type:                 wsmsg.TypeStats,
		Timestamp:            time.Now().UTC(),
		ActiveUsers:          activeUsers,
		MaxUsers:             b.maxUsers,
		OrientationListeners: b.registry.CountByRole(connection.RoleOrientationListener),
		BulkDataListeners:    b.registry.CountByRole(connection.RoleBulkListener),
		PassiveListeners:     b.registry.CountByRole(connection.RoleListener),
		Dashboards:           b.registry.CountByRole(connection.RoleDashboard),
		TotalDataPoints:      atomic.LoadInt64(&b.totalDataPoints),
		DataRatePerMinute:    atomic.LoadInt64(&b.dataPointsInWindow),
		BulkQueueSize:        b.batcher.QueueLen(),
		UptimeSeconds:        time.Since(b.start).Seconds(),
		Users:                sess.Users,
	}
}

func (b *Broadcaster) refreshGauges() {
	b.metricActiveSenders.Set(float64(b.registry.CountByRole(connection.RoleSender)))
	b.metricBulkQueueSize.Set(float64(b.batcher.QueueLen()))
	b.metricOrientationConns.Set(float64(b.registry.CountByRole(connection.RoleOrientationListener)))
	b.metricBulkConns.Set(float64(b.registry.CountByRole(connection.RoleBulkListener)))
	b.metricListenerConns.Set(float64(b.registry.CountByRole(connection.RoleListener)))
	b.metricDashboardConns.Set(float64(b.registry.CountByRole(connection.RoleDashboard)))
	b.refreshDroppedOrientation()
}

// refreshDroppedOrientation samples the cumulative drop count across every
// live orientation listener and feeds the monotonic increase to the
// Prometheus counter — a listener's own counter resets to zero when it
// disconnects, so only the delta since the last sample is ever safe to add.
func (b *Broadcaster) refreshDroppedOrientation() {
	var total int64
	for _, c := range b.registry.Snapshot(connection.RoleOrientationListener) {
		total += c.Dropped()
	}
	prev := atomic.SwapInt64(&b.lastDroppedTotal, total)
	if delta := total - prev; delta > 0 {
		b.metricDroppedOrient.Add(float64(delta))
	}
}

func (b *Broadcaster) broadcastEvent(eventType, userID string, pointNumber int64, message string) {
	payload, err := json.Marshal(wsmsg.DashboardEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		UserID:      userID,
		PointNumber: pointNumber,
		Message:     message,
	})
	if err != nil {
		return
	}
	b.registry.Broadcast(connection.RoleDashboard, payload)
}
