package readcheck

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"entitygraph/internal/config"
	"entitygraph/pkg/storage"
)

func openEnv(t *testing.T, mutate func(*config.Config)) (*Env, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Journal.Driver = "memory"
	if mutate != nil {
		mutate(cfg)
	}
	var logs bytes.Buffer
	env, err := Open(context.Background(), cfg, &logs, prometheus.NewRegistry())
	if err != nil {
		if cfg.Storage.Driver == "sqlite" {
			t.Skipf("sqlite unavailable: %v", err)
		}
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = env.Close() })
	return env, &logs
}

func assertClean(t *testing.T, results []Result, want int) {
	t.Helper()
	if len(results) != want {
		t.Fatalf("expected %d results, got %d", want, len(results))
	}
	for _, r := range results {
		if !r.OK() {
			t.Fatalf("scenario %q: updates=%d err=%v", r.Name, r.Updates, r.Err)
		}
		if r.Statements == 0 {
			t.Fatalf("scenario %q issued no statements", r.Name)
		}
	}
}

func TestLibraryScenariosOnMemory(t *testing.T) {
	env, logs := openEnv(t, nil)
	results, err := env.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assertClean(t, results, 5)

	if got := testutil.ToFloat64(env.Metrics.StatementsCounter(storage.EventUpdate, "test_user", "success")); got != 0 {
		t.Fatalf("expected no update metric, got %v", got)
	}
	if got := testutil.ToFloat64(env.Metrics.StatementsCounter(storage.EventInsert, "test_books", "success")); got != 5 {
		t.Fatalf("expected five book inserts, got %v", got)
	}
	if !strings.Contains(logs.String(), "scenario finished") {
		t.Fatalf("expected scenario log lines")
	}
	if env.Journal == nil || env.Journal.Pending() != 0 || env.Journal.Err() != nil {
		t.Fatalf("journal should have archived every transaction")
	}
}

func TestShopScenariosOnSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")
	journal := filepath.Join(t.TempDir(), "journal")
	env, _ := openEnv(t, func(cfg *config.Config) {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQLitePath = path
		cfg.Storage.Fixture = "shop"
		cfg.Journal.Driver = "fs"
		cfg.Journal.FSRoot = journal
	})
	results, err := env.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assertClean(t, results, 3)
	matches, _ := filepath.Glob(filepath.Join(journal, "journal", "readcheck_invoice", "*.jsonl"))
	if len(matches) != 2 {
		t.Fatalf("expected seed and read transactions archived, got %v", matches)
	}
}

func TestLibraryScenariosOnSQLiteWithConstructor(t *testing.T) {
	env, _ := openEnv(t, func(cfg *config.Config) {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "library.db")
		cfg.Session.ForceEntityConstructor = true
	})
	results, err := env.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assertClean(t, results, 5)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "oracle"
	if _, err := Open(context.Background(), cfg, &bytes.Buffer{}, prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected invalid config error")
	}
}
