// Package app initializes and holds the long-lived services, acting as a
// dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/aggregate"
	"github.com/openusage/meterd/internal/api"
	"github.com/openusage/meterd/internal/batch"
	"github.com/openusage/meterd/internal/bus"
	clocksystem "github.com/openusage/meterd/internal/clock/system"
	"github.com/openusage/meterd/internal/config"
	"github.com/openusage/meterd/internal/dispatch"
	"github.com/openusage/meterd/internal/id/token"
	"github.com/openusage/meterd/internal/logging"
	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/metrics"
	"github.com/openusage/meterd/internal/probes/httpjson"
	"github.com/openusage/meterd/internal/scheduler"
	"github.com/openusage/meterd/internal/sinks"
	"github.com/openusage/meterd/internal/state"
	"github.com/openusage/meterd/internal/store"
	storepostgres "github.com/openusage/meterd/internal/store/postgres"
)

// App holds the wired, long-lived services for one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	bus        *bus.Bus
	dispatcher *dispatch.Dispatcher
	correlator *batch.Correlator
	reducer    *state.Reducer
	sched      *scheduler.Scheduler
	controller *scheduler.Controller
	server     *api.Server
	settings   meter.Settings
	samples    store.SampleRepository
	subs       bus.SubscriptionSet
}

// New builds the full service graph from configuration. It fails fast when
// any component cannot be constructed.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	clock := clocksystem.New()
	eventBus := bus.New()
	reducer := state.New(clock, logger.Named("state"))

	a := &App{
		cfg:     cfg,
		logger:  logger,
		bus:     eventBus,
		reducer: reducer,
	}

	a.dispatcher = dispatch.New(eventBus, clock, a.enabled, dispatch.Config{
		MaxParallel:  cfg.Dispatch.MaxParallel,
		ProbeTimeout: time.Duration(cfg.Dispatch.ProbeTimeoutSeconds) * time.Second,
	}, logger.Named("dispatch"))

	for _, src := range cfg.Sources {
		probe, err := httpjson.New(httpjson.Config{
			Meta: meter.SourceMeta{
				ID:                meter.SourceID(src.ID),
				Name:              src.Name,
				IconURL:           src.IconURL,
				PrimaryCandidates: src.PrimaryCandidates,
			},
			Endpoint:    src.Endpoint,
			BearerToken: src.BearerToken,
			Timeout:     time.Duration(src.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init probe %q: %w", src.ID, err)
		}
		if err := a.dispatcher.Register(probe); err != nil {
			return nil, fmt.Errorf("register probe %q: %w", src.ID, err)
		}
	}

	a.settings = cfg.Settings().Normalize(a.dispatcher.Known())

	a.correlator = batch.New(a.dispatcher, token.New(), reducer, logger.Named("batch"))
	a.correlator.SetDropObserver(metrics.ObserveLateEventDropped)

	a.sched = scheduler.New(clock, a.correlator, reducer, a.enabled, cfg.Interval(), logger.Named("scheduler"))
	a.controller = scheduler.NewController(a.sched, a.correlator, reducer, clock, a.enabled, logger.Named("refresh"))

	a.subs.Add(eventBus.Subscribe(sinks.NewLogSink(logger.Named("events")).Handle))
	a.subs.Add(eventBus.Subscribe(sinks.NewPromSink().Handle))
	if cfg.Store.DSN != "" {
		repo, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:   cfg.Store.DSN,
			Table: cfg.Store.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init sample store: %w", err)
		}
		a.samples = repo
		a.subs.Add(eventBus.Subscribe(sinks.NewStoreSink(repo, clock, logger.Named("samples")).Handle))
		logger.Info("sample history enabled", zap.String("table", cfg.Store.Table))
	}

	a.server = api.NewServer(
		reducer,
		a.sched,
		a.controller,
		a.settings,
		a.dispatcher.Metas(),
		cfg.DisplayMode(),
		aggregate.Config{
			MaxEntries: cfg.Aggregate.MaxEntries,
			Composite:  cfg.CompositeSources(),
		},
		clock,
		logger.Named("api"),
	)

	logger.Info("services initialized",
		zap.Int("sources", len(cfg.Sources)),
		zap.Int("enabled", len(a.enabled())),
		zap.Duration("interval", cfg.Interval()),
	)
	return a, nil
}

// enabled resolves the normalized enabled id set.
func (a *App) enabled() []meter.SourceID {
	return a.settings.Enabled()
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Server returns the HTTP server wrapper.
func (a *App) Server() *api.Server {
	return a.server
}

// Scheduler returns the auto-update scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.sched
}

// Start subscribes the correlator and arms the schedule.
func (a *App) Start() {
	a.correlator.Start(a.bus)
	a.sched.Start()
}

// Close tears everything down: the scheduler stops ticking, the dispatcher
// drains in-flight probes, subscriptions are released together, and the
// sample store closes.
func (a *App) Close(ctx context.Context) {
	a.sched.Stop()
	if err := a.dispatcher.Drain(ctx); err != nil {
		a.logger.Warn("dispatcher drain incomplete", zap.Error(err))
	}
	a.correlator.Stop()
	a.subs.Close()
	if a.samples != nil {
		a.samples.Close()
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr sync failures are expected on some platforms.
		_ = err
	}
}
