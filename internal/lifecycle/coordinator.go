// Package lifecycle implements the Lifecycle & Shutdown Coordinator of spec
// section 4.8: scheduled ticks for the session manager and stats window,
// and a signal-driven graceful drain, grounded on api/cmd/main.go's
// signal.Notify/srv.Shutdown sequence and the scheduling conventions of
// api/internal/plugins/scheduler.go's robfig/cron wrapper.
package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/relayerr"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/stats"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

// Coordinator owns the process's scheduled ticks and its graceful-shutdown
// sequence.
type Coordinator struct {
	registry      *connection.Registry
	sessions      *session.Manager
	batcher       *bulk.Batcher
	broadcaster   *stats.Broadcaster
	tickInterval  time.Duration
	drainDeadline time.Duration
	log           zerolog.Logger

	cron      *cron.Cron
	tickStop  chan struct{}
	tickDone  chan struct{}
}

// New constructs a Coordinator.
func New(
	registry *connection.Registry,
	sessions *session.Manager,
	batcher *bulk.Batcher,
	broadcaster *stats.Broadcaster,
	tickInterval time.Duration,
	drainDeadline time.Duration,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		registry:      registry,
		sessions:      sessions,
		batcher:       batcher,
		broadcaster:   broadcaster,
		tickInterval:  tickInterval,
		drainDeadline: drainDeadline,
		log:           log,
		cron:          cron.New(cron.WithSeconds()),
		tickStop:      make(chan struct{}),
		tickDone:      make(chan struct{}),
	}
}

// Start launches the session-tick goroutine and the minute-resolution cron
// schedule that resets the stats window and rebroadcasts a snapshot (spec
// section 4.7's periodic telemetry, section 4.3's inactivity tick).
func (co *Coordinator) Start() {
	go co.runTickLoop()

	if _, err := co.cron.AddFunc("0 * * * * *", func() {
		co.broadcaster.ResetWindow()
		co.broadcaster.BroadcastSnapshot()
	}); err != nil {
		co.log.Error().Err(err).Msg("failed to schedule stats reset job")
	}
	co.cron.Start()
}

func (co *Coordinator) runTickLoop() {
	defer close(co.tickDone)
	ticker := time.NewTicker(co.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			co.sessions.Tick()
		case <-co.tickStop:
			return
		}
	}
}

// WaitForShutdownSignal blocks until SIGINT/SIGTERM, then runs Drain
// against srv: flush the bulk batcher, broadcast server_shutdown to every
// live connection, shut down the HTTP server (which stops accepting new
// connections) with a bounded deadline, close every remaining connection,
// and stop the scheduled ticks (spec section 4.8).
func (co *Coordinator) WaitForShutdownSignal(srv *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	co.log.Info().Str("signal", sig.String()).Msg("shutdown signal received, draining")
	co.Drain(srv)
}

// Drain runs the graceful shutdown sequence described in spec section 4.8.
// The bulk batcher is flushed before server_shutdown is broadcast: a bulk
// listener must see its final bulk_data_batch before the shutdown notice,
// not after (section 8 scenario 6's observable-output contract).
func (co *Coordinator) Drain(srv *http.Server) {
	co.batcher.Drain()
	co.broadcastServerShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), co.drainDeadline)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		co.log.Warn().Err(err).Msg("http server forced to shutdown past drain deadline")
	} else {
		co.log.Info().Msg("http server drained cleanly")
	}

	for _, conn := range co.registry.SnapshotAll() {
		conn.Close(relayerr.ReasonServerShutdown)
	}

	close(co.tickStop)
	<-co.tickDone
	cronCtx := co.cron.Stop()
	<-cronCtx.Done()
}

func (co *Coordinator) broadcastServerShutdown() {
	payload, err := marshalServerShutdown()
	if err != nil {
		co.log.Warn().Err(err).Msg("failed to marshal server_shutdown")
		return
	}
	for _, conn := range co.registry.SnapshotAll() {
		_ = conn.SendControl(payload)
	}
}

func marshalServerShutdown() ([]byte, error) {
	return json.Marshal(wsmsg.ServerShutdown{Type: wsmsg.TypeServerShutdown, Timestamp: time.Now().UTC()})
}
