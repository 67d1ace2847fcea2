package storage

import (
	"context"
	"time"
)

// EventKind classifies a statement event.
type EventKind string

// Event kinds reported to observers.
const (
	EventBegin    EventKind = "BEGIN"
	EventCommit   EventKind = "COMMIT"
	EventRollback EventKind = "ROLLBACK"
	EventSelect   EventKind = "SELECT"
	EventInsert   EventKind = "INSERT"
	EventUpdate   EventKind = "UPDATE"
	EventDelete   EventKind = "DELETE"
)

// KindOf maps a statement verb to its event kind.
func KindOf(op Op) EventKind { return EventKind(op) }

// Event describes one statement or transaction boundary. Table is empty for
// transaction boundaries; Label names the session that issued it.
type Event struct {
	Kind         EventKind
	Table        string
	Label        string
	Query        string
	Args         []any
	RowsAffected int64
	Started      time.Time
	Duration     time.Duration
	Err          error
}

// Observer receives events synchronously in issue order. Implementations
// must not call back into the session.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans an event out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list []Observer
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return multiObserver(list)
}

type multiObserver []Observer

func (m multiObserver) Observe(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Observe(ctx, ev)
	}
}
