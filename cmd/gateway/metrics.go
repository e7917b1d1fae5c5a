package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/health"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// createMetricsServer creates the metrics HTTP server. It also serves the
// health endpoints so probes keep working when the main listener is
// saturated.
func createMetricsServer(
	cfg config.MetricsConfig,
	metrics *observability.Metrics,
	healthChecker *health.Checker,
	logger observability.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())
	mux.HandleFunc("/health", healthChecker.HealthHandler())
	mux.HandleFunc("/ready", healthChecker.ReadinessHandler())
	mux.HandleFunc("/live", healthChecker.LivenessHandler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", cfg.Path),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	cfg := app.currentConfig().Metrics
	if !cfg.Enabled {
		return
	}

	app.metricsServer = createMetricsServer(cfg, app.metrics, app.healthChecker, logger)
	go runMetricsServer(app.metricsServer, logger)
}
