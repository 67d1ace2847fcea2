// Package readcheck wires a configured session manager and runs the
// read-only scenarios: loading entities inside a transaction must never
// write them back.
package readcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"entitygraph/internal/blob"
	"entitygraph/internal/config"
	"entitygraph/internal/core"
	"entitygraph/internal/fixtures"
	"entitygraph/internal/observability"
	"entitygraph/internal/persistence"
	"entitygraph/pkg/storage"
)

// Env is a manager over the configured store with every observer attached.
type Env struct {
	Manager  *core.Manager
	Logger   *slog.Logger
	Recorder *observability.Recorder
	Metrics  *observability.Metrics
	Journal  *observability.Journal // nil unless configured
	Fixture  string
}

// Open builds the environment cfg describes. Logs go to logOut; metrics are
// registered on reg (the default registerer when nil).
func Open(ctx context.Context, cfg *config.Config, logOut io.Writer, reg prometheus.Registerer) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := observability.NewLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	registry, err := fixtures.Registry(cfg.Storage.Fixture)
	if err != nil {
		return nil, err
	}
	ddl, err := schema(cfg)
	if err != nil {
		return nil, err
	}
	store, err := persistence.Open(ctx, cfg.PersistenceOptions(ddl))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	metrics, err := observability.NewMetrics(cfg.Metrics.Namespace, reg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	env := &Env{
		Logger:   logger,
		Recorder: observability.NewRecorder(),
		Metrics:  metrics,
		Fixture:  cfg.Storage.Fixture,
	}
	observers := []storage.Observer{
		env.Recorder,
		observability.NewLogObserver(logger),
		metrics,
		observability.NewTraceObserver(nil),
	}
	if cfg.JournalEnabled() {
		archive, err := blob.Open(ctx, cfg.BlobOptions())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		env.Journal = observability.NewJournal(archive, cfg.Journal.Prefix, logger)
		observers = append(observers, env.Journal)
	}
	env.Manager, err = core.NewManager(store, registry,
		core.WithConfig(cfg.SessionOptions()),
		core.WithObserver(storage.Observers(observers...)),
		core.WithLogger(logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.DebugContext(ctx, "environment ready",
		"driver", cfg.Storage.Driver,
		"fixture", cfg.Storage.Fixture,
		"journal", cfg.Journal.Driver,
	)
	return env, nil
}

// schema returns the fixture DDL for SQL drivers and nothing for memory.
func schema(cfg *config.Config) (string, error) {
	switch persistence.Driver(cfg.Storage.Driver) {
	case persistence.DriverSQLite:
		return fixtures.DDL(cfg.Storage.Fixture, fixtures.SQLite)
	case persistence.DriverPostgres:
		return fixtures.DDL(cfg.Storage.Fixture, fixtures.Postgres)
	}
	return "", nil
}

// Close releases the store and reports any journal archive failure.
func (e *Env) Close() error {
	var errs []error
	if e.Journal != nil {
		errs = append(errs, e.Journal.Err())
	}
	errs = append(errs, e.Manager.Close())
	return errors.Join(errs...)
}
