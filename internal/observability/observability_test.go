package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"entitygraph/internal/blob"
	"entitygraph/internal/infra/blob/memory"
	"entitygraph/pkg/storage"
)

var started = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func transaction(label string, end storage.EventKind) []storage.Event {
	return []storage.Event{
		{Kind: storage.EventBegin, Label: label, Started: started},
		{Kind: storage.EventSelect, Label: label, Table: "test_user", Query: "SELECT id FROM test_user WHERE id = ?", Args: []any{"u1"}, RowsAffected: 1, Started: started, Duration: 2 * time.Millisecond},
		{Kind: storage.EventUpdate, Label: label, Table: "test_user", Query: "UPDATE test_user SET name = ? WHERE id = ?", Args: []any{"Foo", "u1"}, RowsAffected: 1, Started: started, Duration: time.Millisecond},
		{Kind: end, Label: label, Started: started},
	}
}

func replay(obs storage.Observer, events []storage.Event) {
	for _, ev := range events {
		obs.Observe(context.Background(), ev)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	replay(NewLogObserver(logger), transaction("default", storage.EventCommit))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 log lines, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[2]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["kind"] != "UPDATE" || rec["table"] != "test_user" || rec["label"] != "default" || rec["level"] != "DEBUG" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := NewLogger(io.Discard, "loud", "text"); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := NewLogger(io.Discard, "info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestLogObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	obs := NewLogObserver(logger)
	obs.Observe(context.Background(), storage.Event{Kind: storage.EventSelect, Table: "t"})
	if buf.Len() != 0 {
		t.Fatalf("successful statements log at debug level, got %q", buf.String())
	}
	obs.Observe(context.Background(), storage.Event{Kind: storage.EventInsert, Table: "t", Err: errors.New("duplicate")})
	if !strings.Contains(buf.String(), "statement failed") || !strings.Contains(buf.String(), "duplicate") {
		t.Fatalf("expected failure logged, got %q", buf.String())
	}
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	replay(rec, transaction("default", storage.EventCommit))
	if len(rec.Events()) != 4 || rec.Count(storage.EventUpdate) != 1 {
		t.Fatalf("unexpected events %+v", rec.Events())
	}
	if q := rec.Queries(); len(q) != 2 || !strings.HasPrefix(q[1], "UPDATE") {
		t.Fatalf("unexpected queries %v", q)
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected reset")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("entitygraph", reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	replay(m, transaction("default", storage.EventCommit))
	m.Observe(context.Background(), storage.Event{Kind: storage.EventInsert, Table: "test_user", Err: errors.New("boom")})

	if got := testutil.ToFloat64(m.statements.WithLabelValues("UPDATE", "test_user", "success")); got != 1 {
		t.Fatalf("expected one update, got %v", got)
	}
	if got := testutil.ToFloat64(m.statements.WithLabelValues("INSERT", "test_user", "error")); got != 1 {
		t.Fatalf("expected one failed insert, got %v", got)
	}
	if got := testutil.ToFloat64(m.rowsAffected.WithLabelValues("SELECT", "test_user")); got != 1 {
		t.Fatalf("expected one selected row, got %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 5 {
		t.Fatalf("expected histograms for 5 kinds, got %d", n)
	}

	again, err := NewMetrics("entitygraph", reg)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	again.Observe(context.Background(), storage.Event{Kind: storage.EventUpdate, Table: "test_user"})
	if got := testutil.ToFloat64(m.statements.WithLabelValues("UPDATE", "test_user", "success")); got != 2 {
		t.Fatalf("expected shared collectors, got %v", got)
	}
}

func TestTraceObserver(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	obs := NewTraceObserver(tp)
	replay(obs, transaction("default", storage.EventRollback))
	obs.Observe(context.Background(), storage.Event{Kind: storage.EventDelete, Table: "test_books", Started: started, Err: errors.New("fk")})

	spans := exporter.GetSpans()
	if len(spans) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(spans))
	}
	update := spans[2]
	if update.Name != "UPDATE test_user" {
		t.Fatalf("unexpected span name %q", update.Name)
	}
	if !update.StartTime.Equal(started) || update.EndTime.Sub(update.StartTime) != time.Millisecond {
		t.Fatalf("span should carry statement timing, got %v..%v", update.StartTime, update.EndTime)
	}
	if spans[4].Status.Code != codes.Error {
		t.Fatalf("expected failed statement span to carry error status")
	}
	if spans[0].Name != "BEGIN" {
		t.Fatalf("unexpected boundary span %q", spans[0].Name)
	}
}

func TestJournalArchivesPerTransaction(t *testing.T) {
	store := memory.New()
	j := NewJournal(store, "/journal/", nil)
	obs := storage.Observers(j)

	obs.Observe(context.Background(), storage.Event{Kind: storage.EventSelect, Label: "default", Table: "test_user"})
	replay(obs, transaction("default", storage.EventCommit))
	replay(obs, transaction("fork/1", storage.EventRollback))
	obs.Observe(context.Background(), storage.Event{Kind: storage.EventBegin, Label: "open"})

	if j.Pending() != 1 {
		t.Fatalf("expected one open transaction, got %d", j.Pending())
	}
	list, err := store.List(context.Background(), "journal/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected two archives, got %+v", list)
	}
	if list[0].Key != "journal/default/00000001-commit.jsonl" || list[1].Key != "journal/fork_1/00000002-rollback.jsonl" {
		t.Fatalf("unexpected keys %s, %s", list[0].Key, list[1].Key)
	}

	info, rc, err := store.Get(context.Background(), list[0].Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	if info.Metadata["statements"] != "2" || info.Metadata["outcome"] != "commit" {
		t.Fatalf("unexpected metadata %+v", info.Metadata)
	}
	dec := json.NewDecoder(rc)
	var kinds []string
	for dec.More() {
		var e JournalEntry
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		kinds = append(kinds, e.Kind)
	}
	if strings.Join(kinds, ",") != "BEGIN,SELECT,UPDATE,COMMIT" {
		t.Fatalf("unexpected archived kinds %v", kinds)
	}
	if j.Err() != nil {
		t.Fatalf("unexpected archive error %v", j.Err())
	}
}

type failingStore struct{ *memory.Store }

func (failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("bucket gone")
}

func TestJournalKeepsArchiveFailure(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(&buf, "info", "text")
	j := NewJournal(failingStore{memory.New()}, "", logger)
	replay(j, transaction("", storage.EventCommit))
	if j.Err() == nil || !strings.Contains(j.Err().Error(), "bucket gone") {
		t.Fatalf("expected archive failure, got %v", j.Err())
	}
	if !strings.Contains(buf.String(), "journal archive failed") {
		t.Fatalf("expected failure logged, got %q", buf.String())
	}
}
