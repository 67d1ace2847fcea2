package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"entitygraph/internal/fixtures"
	"entitygraph/internal/infra/persistence/memory"
	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

type recorder struct {
	events []storage.Event
}

func (r *recorder) Observe(_ context.Context, ev storage.Event) { r.events = append(r.events, ev) }

func (r *recorder) reset() { r.events = nil }

func (r *recorder) count(kind storage.EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) kinds() []storage.EventKind {
	out := make([]storage.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// tables returns the table of every event of kind, in issue order.
func (r *recorder) tables(kind storage.EventKind) []string {
	var out []string
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev.Table)
		}
	}
	return out
}

func (r *recorder) queries(kind storage.EventKind) []string {
	var out []string
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev.Query)
		}
	}
	return out
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	mgr   *Manager
	store *memory.Store
	rec   *recorder
}

func newHarness(t *testing.T, reg *mapping.Registry, cfg Config) *harness {
	t.Helper()
	store := memory.NewStore()
	rec := &recorder{}
	mgr, err := NewManager(store, reg, WithConfig(cfg), WithObserver(rec), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return &harness{mgr: mgr, store: store, rec: rec}
}

func newLibrary(t *testing.T, cfg Config) *harness {
	return newHarness(t, fixtures.Library(), cfg)
}

func newShop(t *testing.T, cfg Config) *harness {
	return newHarness(t, fixtures.Shop(func() time.Time { return fixedNow }), cfg)
}

// seed writes a row straight into the store, bypassing any session.
func (h *harness) seed(t *testing.T, table string, row storage.Row) {
	t.Helper()
	cols := make([]string, 0, len(row))
	vals := make([]any, 0, len(row))
	cols = append(cols, "id")
	vals = append(vals, row["id"])
	for k, v := range row {
		if k == "id" {
			continue
		}
		cols = append(cols, k)
		vals = append(vals, v)
	}
	if _, err := h.store.Execute(context.Background(), storage.Statement{Op: storage.OpInsert, Table: table, Columns: cols, Values: vals}); err != nil {
		t.Fatalf("seed %s: %v", table, err)
	}
}

func (h *harness) rows(table string) []storage.Row {
	return h.store.ExportState()[table]
}

func mustCreate(t *testing.T, s *Session, kind string, values mapping.Values) *Entity {
	t.Helper()
	e, err := s.Create(kind, values)
	if err != nil {
		t.Fatalf("create %s: %v", kind, err)
	}
	return e
}

func joinKinds(kinds []storage.EventKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
