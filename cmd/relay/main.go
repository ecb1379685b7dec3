// Command relay runs the sensor relay server: it wires configuration,
// logging, the connection registry, the session manager, the two fan-out
// paths, the ingest hook, the telemetry broadcaster, the HTTP router, and
// the shutdown coordinator, then serves until a termination signal drains
// the process. Grounded on api/cmd/main.go's component-wiring order and
// its signal-driven graceful shutdown.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sensor-relay/relay/internal/config"
	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/fanout/bulk"
	"github.com/sensor-relay/relay/internal/fanout/orientation"
	"github.com/sensor-relay/relay/internal/hook"
	"github.com/sensor-relay/relay/internal/ingest"
	"github.com/sensor-relay/relay/internal/lifecycle"
	"github.com/sensor-relay/relay/internal/logger"
	"github.com/sensor-relay/relay/internal/router"
	"github.com/sensor-relay/relay/internal/session"
	"github.com/sensor-relay/relay/internal/stats"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Log

	ingestHook, err := hook.New(cfg.IngestHook, cfg.NatsURL, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct ingest hook")
	}
	defer ingestHook.Close()

	registry := connection.NewRegistry()
	sessions := session.New(cfg.MaxSenders, cfg.SenderTimeout, logger.Component("session"))
	orientationPath := orientation.New(registry, logger.Component("orientation"))
	batcher := bulk.New(registry, cfg.MaxBatchSize, cfg.BatchInterval, logger.Component("bulk"))
	go batcher.Run()

	broadcaster := stats.New(registry, sessions, batcher, cfg.MaxSenders, prometheus.DefaultRegisterer, logger.Component("stats"))
	pipeline := ingest.New(sessions, registry, orientationPath, batcher, broadcaster, ingestHook, logger.Component("ingest"))

	rt := router.New(
		registry, sessions, pipeline, orientationPath, batcher, broadcaster,
		cfg.WriteQueueCap, cfg.SlowConsumerDeadline, cfg.BatchInterval, cfg.MaxBatchSize,
		logger.Component("router"),
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.NoRoute(router.NoRoute())
	rt.RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: engine,
	}

	coordinator := lifecycle.New(registry, sessions, batcher, broadcaster, cfg.SessionTickInterval, cfg.DrainDeadline, logger.Component("lifecycle"))
	coordinator.Start()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("relay server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	coordinator.WaitForShutdownSignal(srv)
	log.Info().Msg("relay server stopped")
	os.Exit(0)
}
