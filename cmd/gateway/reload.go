package main

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vyrodovalexey/avarfc/internal/audit"
	"github.com/vyrodovalexey/avarfc/internal/auth"
	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// startConfigWatcher starts the configuration watcher.
func startConfigWatcher(ctx context.Context, app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, reloading")
		if reloadErr := app.reload(newCfg); reloadErr != nil {
			logger.Error("failed to reload configuration", observability.Error(reloadErr))
		}
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) { app.metrics.RecordConfigReload(false) }),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}

// reload applies the hot-reloadable parts of newCfg: destinations, their
// credentials, the access policy, the audit store, the default destination
// and the transaction settings. Anything else needs a restart. A failed step
// leaves the previous configuration in effect for that component.
func (a *application) reload(newCfg *config.Config) (err error) {
	defer func() { a.metrics.RecordConfigReload(err == nil) }()

	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.config

	warnRestartRequired(a.logger, old, newCfg)

	var policy *auth.Policy
	if a.guard != nil {
		policy, err = auth.CompilePolicy(newCfg.Auth.Policy)
		if err != nil {
			return fmt.Errorf("invalid access policy: %w", err)
		}
	}

	var store audit.Store
	if !reflect.DeepEqual(old.Audit, newCfg.Audit) {
		store, err = audit.New(context.Background(), newCfg.Audit, a.logger)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
	}

	if err := a.registry.Reload(newCfg.Destinations); err != nil {
		closeStore(a.logger, store)
		return fmt.Errorf("failed to reload destinations: %w", err)
	}
	if err := a.credentials.Reload(newCfg.Destinations); err != nil {
		closeStore(a.logger, store)
		return fmt.Errorf("failed to reload credentials: %w", err)
	}
	if policy != nil {
		a.guard.SetPolicy(policy)
	}
	if store != nil {
		closeStore(a.logger, a.audit.Swap(store))
	}
	a.server.SetCaller(a.newBridge(newCfg))
	a.config = newCfg

	a.logger.Info("configuration applied",
		observability.Int("destinations", len(newCfg.Destinations)),
		observability.String("default_destination", newCfg.DefaultDestination),
	)
	return nil
}

func closeStore(logger observability.Logger, store audit.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Error("failed to close audit store", observability.Error(err))
	}
}

// warnRestartRequired logs every changed section that is only read at
// startup.
func warnRestartRequired(logger observability.Logger, old, next *config.Config) {
	oldAuth, nextAuth := old.Auth, next.Auth
	oldAuth.Policy, nextAuth.Policy = "", ""

	sections := []struct {
		name     string
		before, after any
	}{
		{"server", old.Server, next.Server},
		{"logging", old.Logging, next.Logging},
		{"metrics", old.Metrics, next.Metrics},
		{"tracing", old.Tracing, next.Tracing},
		{"rateLimit", old.RateLimit, next.RateLimit},
		{"health", old.Health, next.Health},
		{"auth", oldAuth, nextAuth},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.before, s.after) {
			logger.Warn("configuration section changed, restart required to apply it",
				observability.String("section", s.name),
			)
		}
	}
}
