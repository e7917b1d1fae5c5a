package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// runGateway runs the gateway and handles shutdown.
func runGateway(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := app.currentConfig()
	if err := app.prober.Start(ctx, cfg.Health.Schedule); err != nil {
		fatalWithSync(logger, "failed to start destination prober", observability.Error(err))
		return // unreachable in production; allows test to continue
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- app.server.Start() }()

	startMetricsServerIfEnabled(app, logger)
	watcher := startConfigWatcher(ctx, app, configPath, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped unexpectedly", observability.Error(err))
		}
	}

	app.shutdown(watcher)
}

// shutdown drains and stops every component. Readiness turns unhealthy
// first so load balancers stop routing before the listener closes.
func (a *application) shutdown(watcher *config.Watcher) {
	timeout := a.currentConfig().Server.ShutdownTimeout.Duration()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.healthChecker.SetDraining(true)

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if a.metricsServer != nil {
		a.logger.Info("stopping metrics server")
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	a.close(ctx)
	a.logger.Info("gateway stopped")
}
