package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"entitygraph/internal/blob"
	"entitygraph/pkg/storage"
)

// JournalEntry is one archived event.
type JournalEntry struct {
	Kind         string    `json:"kind"`
	Table        string    `json:"table,omitempty"`
	Query        string    `json:"query,omitempty"`
	Args         []any     `json:"args,omitempty"`
	RowsAffected int64     `json:"rows_affected,omitempty"`
	Started      time.Time `json:"started"`
	DurationMS   float64   `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
}

func entryOf(ev storage.Event) JournalEntry {
	e := JournalEntry{
		Kind:         string(ev.Kind),
		Table:        ev.Table,
		Query:        ev.Query,
		Args:         ev.Args,
		RowsAffected: ev.RowsAffected,
		Started:      ev.Started,
		DurationMS:   float64(ev.Duration) / float64(time.Millisecond),
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

// Journal buffers the events of each session's open transaction and archives
// them as one JSON-lines blob when the transaction commits or rolls back.
// Events outside a transaction are not archived. Keys look like
// <prefix>/<label>/<seq>-<outcome>.jsonl with a journal-wide sequence.
type Journal struct {
	store  blob.Store
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	open    map[string][]JournalEntry
	seq     uint64
	lastErr error
}

var _ storage.Observer = (*Journal)(nil)

// NewJournal archives to store under prefix. Archive failures are logged
// through logger (slog.Default when nil) and kept for Err.
func NewJournal(store blob.Store, prefix string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
		open:   make(map[string][]JournalEntry),
	}
}

// Observe implements storage.Observer.
func (j *Journal) Observe(ctx context.Context, ev storage.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch ev.Kind {
	case storage.EventBegin:
		j.open[ev.Label] = []JournalEntry{entryOf(ev)}
	case storage.EventCommit, storage.EventRollback:
		entries, ok := j.open[ev.Label]
		if !ok {
			return
		}
		delete(j.open, ev.Label)
		j.seq++
		if err := j.archive(ctx, ev, j.seq, append(entries, entryOf(ev))); err != nil {
			j.lastErr = err
			j.logger.WarnContext(ctx, "journal archive failed", "label", ev.Label, "error", err)
		}
	default:
		if entries, ok := j.open[ev.Label]; ok {
			j.open[ev.Label] = append(entries, entryOf(ev))
		}
	}
}

func (j *Journal) archive(ctx context.Context, end storage.Event, seq uint64, entries []JournalEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode journal entry: %w", err)
		}
	}
	outcome := strings.ToLower(string(end.Kind))
	key := path.Join(j.prefix, labelSegment(end.Label), fmt.Sprintf("%08d-%s.jsonl", seq, outcome))
	_, err := j.store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "application/x-ndjson",
		Metadata: map[string]string{
			"label":      end.Label,
			"outcome":    outcome,
			"statements": fmt.Sprint(len(entries) - 2),
		},
	})
	return err
}

// Pending reports the number of sessions with an unfinished transaction.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.open)
}

// Err returns the most recent archive failure.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

func labelSegment(label string) string {
	if label == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "..", "_").Replace(label)
}
