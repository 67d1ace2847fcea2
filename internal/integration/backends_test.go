// Package integration drives the session engine end to end against every
// backing store that runs without external services.
package integration

import (
	"context"
	"testing"

	"entitygraph/internal/core"
	"entitygraph/internal/fixtures"
	"entitygraph/internal/infra/persistence/memory"
	"entitygraph/internal/infra/persistence/sqlite"
	"entitygraph/internal/observability"
	"entitygraph/pkg/storage"
)

type backend struct {
	name string
	open func(t *testing.T, set string) storage.Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(*testing.T, string) storage.Store { return memory.NewStore() }},
		{name: "sqlite", open: func(t *testing.T, set string) storage.Store {
			t.Helper()
			ddl, err := fixtures.DDL(set, fixtures.SQLite)
			if err != nil {
				t.Fatalf("ddl: %v", err)
			}
			store, err := sqlite.NewStore(context.Background(), sqlite.MemoryPath, ddl)
			if err != nil {
				t.Skipf("sqlite unavailable: %v", err)
			}
			return store
		}},
	}
}

// forEachBackend runs fn once per backend with a fresh manager over set.
func forEachBackend(t *testing.T, set string, fn func(t *testing.T, m *core.Manager, rec *observability.Recorder)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			registry, err := fixtures.Registry(set)
			if err != nil {
				t.Fatalf("registry: %v", err)
			}
			rec := observability.NewRecorder()
			m, err := core.NewManager(b.open(t, set), registry, core.WithObserver(rec))
			if err != nil {
				t.Fatalf("manager: %v", err)
			}
			t.Cleanup(func() { _ = m.Close() })
			fn(t, m, rec)
		})
	}
}

func tablesOf(rec *observability.Recorder, kind storage.EventKind) []string {
	var out []string
	for _, ev := range rec.Events() {
		if ev.Kind == kind {
			out = append(out, ev.Table)
		}
	}
	return out
}
