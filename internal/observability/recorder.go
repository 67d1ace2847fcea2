package observability

import (
	"context"
	"sync"

	"entitygraph/pkg/storage"
)

// Recorder retains every event for later inspection.
type Recorder struct {
	mu     sync.Mutex
	events []storage.Event
}

var _ storage.Observer = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Observe implements storage.Observer.
func (r *Recorder) Observe(_ context.Context, ev storage.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []storage.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind storage.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Queries returns the rendered statement text of every event with a table.
func (r *Recorder) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Table != "" {
			out = append(out, ev.Query)
		}
	}
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
