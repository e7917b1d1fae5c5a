package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/vyrodovalexey/avarfc/internal/audit"
	"github.com/vyrodovalexey/avarfc/internal/auth"
	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/credentials"
	"github.com/vyrodovalexey/avarfc/internal/destination"
	"github.com/vyrodovalexey/avarfc/internal/health"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
	"github.com/vyrodovalexey/avarfc/internal/server"
)

// destinationsCheck is the readiness check fed by the destination prober.
const destinationsCheck = "destinations"

// application holds all application components.
type application struct {
	mu     sync.Mutex
	config *config.Config

	server        *server.Server
	registry      *destination.Registry
	credentials   *credentials.Set
	authenticator *auth.Authenticator
	guard         *auth.Guard
	audit         *audit.AtomicStore
	prober        *health.Prober
	healthChecker *health.Checker
	metrics       *observability.Metrics
	metricsServer *http.Server
	tracer        *observability.Tracer
	logger        observability.Logger
}

// initApplication initializes all application components or exits.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	app, err := newApplication(context.Background(), cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize application", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	return app
}

// newApplication builds every component from cfg. On error the components
// built so far are released.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (_ *application, err error) {
	app := &application{
		config:        cfg,
		logger:        logger,
		metrics:       observability.NewMetrics(cfg.Metrics.Namespace),
		healthChecker: health.NewChecker(version),
	}
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)

	defer func() {
		if err != nil {
			app.close(context.WithoutCancel(ctx))
		}
	}()

	app.tracer, err = observability.NewTracer(observability.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	app.registry, err = destination.NewRegistry(cfg.Destinations,
		destination.WithLogger(logger),
		destination.WithMetadataRecorder(app.metrics),
		destination.WithBreakerStateFunc(app.metrics.SetCircuitBreakerState),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create destinations: %w", err)
	}

	app.credentials, err = credentials.NewSet(cfg.Destinations, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential providers: %w", err)
	}

	store, err := audit.New(ctx, cfg.Audit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	app.audit = audit.NewAtomicStore(store)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(app.metrics),
		server.WithRateLimit(cfg.RateLimit),
		server.WithCredentials(app.credentials),
		server.WithChecker(app.healthChecker),
		server.WithAudit(app.audit),
	}

	if cfg.Auth.Enabled {
		if err := app.initAuth(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		opts = append(opts, server.WithGuard(app.guard))
	}

	app.server, err = server.New(cfg.Server, app.newBridge(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	app.prober = health.NewProber(app.registry,
		health.WithProbeTimeout(cfg.Health.ProbeTimeout.Duration()),
		health.WithUpRecorder(app.metrics),
		health.WithProberLogger(logger),
	)
	app.healthChecker.RegisterCheck(destinationsCheck, app.prober.Check)

	return app, nil
}

func (a *application) initAuth(ctx context.Context, cfg config.AuthConfig) error {
	policy, err := auth.CompilePolicy(cfg.Policy)
	if err != nil {
		return fmt.Errorf("invalid access policy: %w", err)
	}

	a.authenticator, err = auth.NewAuthenticator(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	a.guard = auth.NewGuard(a.authenticator, policy,
		auth.WithDestinationResolver(a.resolveDestination),
		auth.WithGuardLogger(a.logger),
	)
	return nil
}

// resolveDestination maps the empty path segment to the current default.
func (a *application) resolveDestination(name string) string {
	if name != "" || a.server == nil {
		return name
	}
	return a.server.Caller().DefaultDestination()
}

// newBridge builds the call pipeline for cfg on top of the registry.
func (a *application) newBridge(cfg *config.Config) *rfc.Bridge {
	return rfc.NewBridge(a.registry,
		rfc.WithDefaultDestination(cfg.DefaultDestination),
		rfc.WithTransactionSettings(rfc.TransactionSettings{
			CommitFunction:   cfg.Transaction.CommitFunction,
			Wait:             cfg.Transaction.Wait,
			RollbackFunction: cfg.Transaction.RollbackFunction,
			RollbackOnError:  cfg.Transaction.RollbackOnError,
		}),
		rfc.WithCallTimeout(cfg.Server.CallTimeout.Duration()),
		rfc.WithObserver(a.metrics),
		rfc.WithLogger(a.logger),
	)
}

// currentConfig returns the configuration in effect.
func (a *application) currentConfig() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// close releases every component that holds resources. It is safe on a
// partially built application.
func (a *application) close(ctx context.Context) {
	if a.prober != nil {
		a.prober.Stop(ctx)
	}
	if a.authenticator != nil {
		a.authenticator.Close()
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Error("failed to close destinations", observability.Error(err))
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Error("failed to close audit store", observability.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}
}
