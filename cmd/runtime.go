package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/deepwork/internal/cachemanager"
	"github.com/zjrosen/deepwork/internal/config"
	"github.com/zjrosen/deepwork/internal/flags"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/metrics"
	"github.com/zjrosen/deepwork/internal/orchestrator"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/persistence/memory"
	"github.com/zjrosen/deepwork/internal/persistence/sqlite"
	"github.com/zjrosen/deepwork/internal/pubsub"
	"github.com/zjrosen/deepwork/internal/session"
	"github.com/zjrosen/deepwork/internal/tracing"
)

// runtime is everything one process needs to serve orchestrator operations.
type runtime struct {
	cfg      config.Config
	flags    *flags.Registry
	store    persistence.Store
	orch     *orchestrator.Orchestrator
	events   *pubsub.Broker[orchestrator.TaskEvent]
	registry *prometheus.Registry
	metrics  *metrics.Collector
	tracing  *tracing.Provider
}

// newRuntime opens the store and wires the orchestrator from cfg. Sessions
// left in progress or paused by an earlier process are restored.
func newRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		flags:    flags.NewWithDefaults(cfg.Flags),
		registry: prometheus.NewRegistry(),
		events:   pubsub.NewBrokerWithBuffer[orchestrator.TaskEvent](256),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = metrics.NewCollector(rt.registry)

	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	rt.store = store

	provider, err := tracing.NewProvider(cfg.Tracing, tracing.WithAttributes(attribute.String("service.version", version)))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	rt.tracing = provider

	et := cfg.Orchestrator.EntityType()
	coalesce := rt.flags.Enabled(flags.FlagRequestCoalescing)
	cacheCfg := cfg.Cache.TaskCacheConfig(coalesce)
	cacheCfg.LoadTimeout = et.LoadBudget()
	tracker := session.NewTracker(session.Config{
		MaxConcurrent:       et.MaxConcurrentSessions,
		ProtectionThreshold: et.ProtectionFocusThreshold,
	})

	rt.orch, err = orchestrator.New(orchestrator.Deps{
		Store:    store,
		Cache:    cachemanager.NewTaskCache(cacheCfg),
		Sessions: tracker,
		Metrics:  rt.metrics,
		Tracer:   provider.Tracer(),
		Events:   rt.events,
	}, et)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	res := rt.orch.RestoreSessions(ctx)
	if _, err := res.Unwrap(); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("restoring sessions: %w", err)
	}
	for _, w := range res.Warnings() {
		log.Warn(log.CatSession, w)
	}

	log.Info(log.CatConfig, "Runtime ready",
		"backend", cfg.Database.Backend,
		"namespace", et.Namespace,
		"coalescing", coalesce,
		"tracing", provider.Enabled())
	return rt, nil
}

func openStore(db config.DatabaseConfig) (persistence.Store, error) {
	switch db.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		store, err := sqlite.Open(db.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database %s: %w", db.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", db.Backend)
	}
}

// Close flushes traces and closes the store and the event broker.
func (rt *runtime) Close(ctx context.Context) error {
	rt.events.Close()
	var errList []error
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(ctx); err != nil {
			errList = append(errList, fmt.Errorf("shutting down tracing: %w", err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errList = append(errList, fmt.Errorf("closing store: %w", err))
		}
	}
	return errors.Join(errList...)
}
