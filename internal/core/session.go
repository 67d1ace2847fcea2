package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"entitygraph/pkg/identity"
	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

// SessionState tracks the transaction lifecycle of a session.
type SessionState int

const (
	// SessionIdle sessions have no open transaction and have not finished one.
	SessionIdle SessionState = iota
	// SessionActive sessions hold an open transaction.
	SessionActive
	// SessionCommitted sessions committed their last transaction.
	SessionCommitted
	// SessionRolledBack sessions rolled back their last transaction.
	SessionRolledBack
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionActive:
		return "active"
	case SessionCommitted:
		return "committed"
	case SessionRolledBack:
		return "rolledBack"
	}
	return "unknown"
}

// Session is a unit of work. It is not safe for concurrent use; fork one
// session per goroutine.
type Session struct {
	mgr      *Manager
	label    string
	global   bool
	identity *IdentityMap
	tracker  *ChangeTracker
	pending  []*Entity
	removed  []*Entity
	tx       storage.Tx
	saved    *checkpoint
	state    SessionState
}

func newSession(m *Manager, label string) *Session {
	return &Session{
		mgr:      m,
		label:    label,
		identity: NewIdentityMap(),
		tracker:  NewChangeTracker(),
	}
}

// ForkOptions tune Session.Fork.
type ForkOptions struct {
	// KeepIdentityMap starts the fork with copies of the parent's managed
	// instances and snapshots; the two sessions diverge afterwards.
	KeepIdentityMap bool
	Label           string
}

// Fork returns an independent session. Forking the global session is always
// allowed.
func (s *Session) Fork(opts ForkOptions) *Session {
	label := opts.Label
	if label == "" {
		label = "fork-" + strconv.FormatUint(s.mgr.forks.Add(1), 10)
	}
	child := newSession(s.mgr, label)
	if opts.KeepIdentityMap {
		s.copyInto(child)
	}
	return child
}

// copyInto gives child private copies of every instance s manages or has
// scheduled, plus anything reachable from them, so neither session can
// change the other's instances. Snapshots are immutable and shared.
func (s *Session) copyInto(child *Session) {
	copies := make(map[*Entity]*Entity)
	var cp func(e *Entity) *Entity
	cp = func(e *Entity) *Entity {
		if e == nil {
			return nil
		}
		if c, ok := copies[e]; ok {
			return c
		}
		c := &Entity{
			desc:        e.desc,
			id:          e.id,
			values:      e.values.Clone(),
			embedded:    make(map[string]EmbeddedValue, len(e.embedded)),
			refs:        make(map[string]*Reference, len(e.refs)),
			collections: make(map[string]*Collection, len(e.collections)),
			state:       e.state,
			seq:         e.seq,
		}
		copies[e] = c
		for name, v := range e.embedded {
			c.embedded[name] = v
		}
		for name, r := range e.refs {
			c.refs[name] = &Reference{owner: c, rel: r.rel, id: r.id, resolved: r.resolved, target: cp(r.target)}
		}
		for name, col := range e.collections {
			nc := &Collection{owner: c, rel: col.rel, state: col.state, items: copyAll(col.items, cp), added: copyAll(col.added, cp)}
			if col.removed != nil {
				nc.removed = make(map[identity.ID]bool, len(col.removed))
				for id, v := range col.removed {
					nc.removed[id] = v
				}
			}
			c.collections[name] = nc
		}
		return c
	}
	for _, e := range s.identity.order {
		child.identity.Put(cp(e))
	}
	child.pending = copyAll(s.pending, cp)
	child.removed = copyAll(s.removed, cp)
	for e, snap := range s.tracker.snapshots {
		child.tracker.snapshots[cp(e)] = snap
	}
}

func copyAll(list []*Entity, cp func(*Entity) *Entity) []*Entity {
	if list == nil {
		return nil
	}
	out := make([]*Entity, len(list))
	for i, e := range list {
		out[i] = cp(e)
	}
	return out
}

// Label returns the name carried by this session's events.
func (s *Session) Label() string { return s.label }

// State returns the transaction lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Manager returns the owning manager.
func (s *Session) Manager() *Manager { return s.mgr }

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool { return s.tx != nil }

func (s *Session) usable() error {
	if s.global && !s.mgr.cfg.AllowGlobalContext {
		return ErrGlobalContext
	}
	return nil
}

// Contains reports whether (kind, id) is managed by this session.
func (s *Session) Contains(kind string, id identity.ID) bool {
	return s.identity.Contains(kind, id)
}

// Managed returns managed instances in adoption order.
func (s *Session) Managed() []*Entity { return s.identity.Entities() }

// Diff compares e with its snapshot without side effects.
func (s *Session) Diff(e *Entity) ChangeSet { return s.tracker.Diff(e) }

// Snapshot returns the baseline of e, or nil when untracked.
func (s *Session) Snapshot(e *Entity) *Snapshot { return s.tracker.Snapshot(e) }

// New constructs an unmanaged instance of kind.
func (s *Session) New(kind string, values mapping.Values) (*Entity, error) {
	return s.mgr.New(kind, values)
}

// Create constructs an instance through the descriptor's constructor and
// persists it.
func (s *Session) Create(kind string, values mapping.Values) (*Entity, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	e, err := s.mgr.New(kind, values)
	if err != nil {
		return nil, err
	}
	if err := s.Persist(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Persist schedules new instances for insertion at the next flush. Persisting
// a managed instance is a no-op; persisting a removed one cancels the removal.
func (s *Session) Persist(entities ...*Entity) error {
	if err := s.usable(); err != nil {
		return err
	}
	for _, e := range entities {
		switch e.state {
		case StateNew:
			if err := s.schedule(e); err != nil {
				return err
			}
		case StateManaged:
			if s.identity.Get(e.Kind(), e.id) != e {
				return fmt.Errorf("%w: %s is managed by another session", ErrDetached, e)
			}
		case StateRemoved:
			if i := position(s.removed, e); i >= 0 {
				s.removed = append(s.removed[:i:i], s.removed[i+1:]...)
				e.state = StateManaged
				continue
			}
			return fmt.Errorf("%w: %s", ErrDetached, e)
		default:
			return fmt.Errorf("%w: %s", ErrDetached, e)
		}
	}
	return nil
}

func (s *Session) schedule(e *Entity) error {
	if position(s.pending, e) >= 0 {
		return nil
	}
	if !s.identity.Put(e) {
		return fmt.Errorf("%w: %s", ErrIdentityConflict, e)
	}
	s.pending = append(s.pending, e)
	return nil
}

// Remove schedules managed instances for deletion. Removing an unflushed
// instance simply unschedules it.
func (s *Session) Remove(entities ...*Entity) error {
	if err := s.usable(); err != nil {
		return err
	}
	for _, e := range entities {
		switch e.state {
		case StateNew:
			if i := position(s.pending, e); i >= 0 {
				s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
				s.identity.Delete(e)
			}
		case StateManaged:
			if s.identity.Get(e.Kind(), e.id) != e {
				return fmt.Errorf("%w: %s is managed by another session", ErrDetached, e)
			}
			e.state = StateRemoved
			s.removed = append(s.removed, e)
			for _, ref := range e.refs {
				if ref.rel.Kind == mapping.ToOne && ref.target != nil {
					detachInverse(ref.target, inverseName(ref.rel, e.Kind(), ref.target), e)
				}
			}
		case StateRemoved:
		default:
			return fmt.Errorf("%w: %s", ErrDetached, e)
		}
	}
	return nil
}

// Clear detaches every managed instance and drops all snapshots and
// scheduled work.
func (s *Session) Clear() {
	for _, e := range s.identity.Clear() {
		if e.state != StateNew {
			e.state = StateDetached
		}
	}
	s.tracker.Reset()
	s.pending = nil
	s.removed = nil
}

// adopt returns the managed instance for row, hydrating and registering a
// new one only when the identity map has none. Existing instances are
// returned unchanged: row data is never re-applied.
func (s *Session) adopt(desc *mapping.Descriptor, row storage.Row) (*Entity, error) {
	raw, err := mapping.Identifier.ToRuntime(row[desc.PrimaryKey])
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", desc.Kind, desc.PrimaryKey, err)
	}
	id, _ := raw.(identity.ID)
	if id.IsZero() {
		return nil, fmt.Errorf("%s row without %s", desc.Kind, desc.PrimaryKey)
	}
	if e := s.identity.Get(desc.Kind, id); e != nil {
		return e, nil
	}
	e, err := s.hydrate(desc, id, row)
	if err != nil {
		return nil, err
	}
	s.identity.Put(e)
	e.state = StateManaged
	s.tracker.Take(e)
	return e, nil
}

func (s *Session) hydrate(desc *mapping.Descriptor, id identity.ID, row storage.Row) (*Entity, error) {
	e := blank(desc)
	if s.mgr.cfg.ForceEntityConstructor {
		if err := e.assign(desc.Defaults()); err != nil {
			return nil, err
		}
	}
	e.id = id
	for _, f := range desc.Fields {
		v, ok := row[f.Column]
		if !ok {
			continue
		}
		rt, err := f.Type.ToRuntime(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", desc.Kind, f.Name, err)
		}
		e.values[f.Name] = rt
	}
	for _, em := range desc.Embedded {
		comps := make(mapping.Values, len(em.Fields))
		present := false
		for _, f := range em.Fields {
			v := row[em.Column(f)]
			if v == nil {
				comps[f.Name] = nil
				continue
			}
			rt, err := f.Type.ToRuntime(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s.%s: %w", desc.Kind, em.Name, f.Name, err)
			}
			comps[f.Name] = rt
			present = true
		}
		if present {
			e.embedded[em.Name] = EmbeddedValue{values: comps}
		} else {
			e.embedded[em.Name] = EmbeddedValue{}
		}
	}
	for _, rel := range desc.Owning() {
		raw, err := mapping.Identifier.ToRuntime(row[rel.JoinColumn])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", desc.Kind, rel.Name, err)
		}
		ref := e.refs[rel.Name]
		ref.target = nil
		ref.id, _ = raw.(identity.ID)
		ref.resolved = false
		if ref.id.IsZero() {
			continue
		}
		if target := s.identity.Get(rel.Target, ref.id); target != nil {
			ref.attachTo(target)
		}
	}
	return e, nil
}

func (s *Session) emit(ctx context.Context, ev storage.Event) {
	if s.mgr.observer == nil {
		return
	}
	ev.Label = s.label
	s.mgr.observer.Observe(ctx, ev)
}

func (s *Session) execute(ctx context.Context, stmt storage.Statement) (storage.Result, error) {
	var exec storage.Executor = s.mgr.store
	if s.tx != nil {
		exec = s.tx
	}
	query, args, _ := stmt.Render(storage.Generic)
	started := s.mgr.now()
	res, err := exec.Execute(ctx, stmt)
	ev := storage.Event{
		Kind:     storage.KindOf(stmt.Op),
		Table:    stmt.Table,
		Query:    query,
		Args:     args,
		Started:  started,
		Duration: s.mgr.now().Sub(started),
		Err:      err,
	}
	if stmt.Op == storage.OpSelect {
		ev.RowsAffected = int64(len(res.Rows))
	} else {
		ev.RowsAffected = res.RowsAffected
	}
	s.emit(ctx, ev)
	if err != nil {
		return res, &StoreError{Op: ev.Kind, Table: stmt.Table, Err: err}
	}
	return res, nil
}

func (s *Session) selectRows(ctx context.Context, desc *mapping.Descriptor, where []storage.Condition, order ...storage.Order) ([]storage.Row, error) {
	res, err := s.execute(ctx, storage.Statement{
		Op:      storage.OpSelect,
		Table:   desc.Table,
		Columns: desc.Columns(),
		Where:   where,
		OrderBy: order,
	})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// checkpoint captures what a rollback restores.
type checkpoint struct {
	identity *IdentityMap
	tracker  *ChangeTracker
	pending  []*Entity
	removed  []*Entity
	states   map[*Entity]State
}

func (s *Session) capture() *checkpoint {
	cp := &checkpoint{
		identity: s.identity.clone(),
		tracker:  s.tracker.clone(),
		pending:  append([]*Entity(nil), s.pending...),
		removed:  append([]*Entity(nil), s.removed...),
		states:   make(map[*Entity]State, s.identity.Len()),
	}
	for _, e := range s.identity.order {
		cp.states[e] = e.state
	}
	return cp
}

// restore rewinds bookkeeping to cp. Field values are not reverted.
func (s *Session) restore(cp *checkpoint) {
	for _, e := range s.identity.order {
		if _, ok := cp.states[e]; !ok && e.state == StateManaged {
			e.state = StateDetached
		}
	}
	for e, st := range cp.states {
		e.state = st
	}
	s.identity = cp.identity
	s.tracker = cp.tracker
	s.pending = cp.pending
	s.removed = cp.removed
}

// Begin opens a store transaction.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.tx != nil {
		return ErrTransactionActive
	}
	started := s.mgr.now()
	tx, err := s.mgr.store.Begin(ctx)
	s.emit(ctx, storage.Event{Kind: storage.EventBegin, Started: started, Duration: s.mgr.now().Sub(started), Err: err})
	if err != nil {
		return &StoreError{Op: storage.EventBegin, Err: err}
	}
	s.tx = tx
	s.saved = s.capture()
	s.state = SessionActive
	return nil
}

// Commit flushes pending changes and commits the open transaction. A failed
// flush rolls the transaction back.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	if err := s.flush(ctx); err != nil {
		return err
	}
	return s.commitTx(ctx)
}

func (s *Session) commitTx(ctx context.Context) error {
	tx := s.tx
	started := s.mgr.now()
	err := tx.Commit(ctx)
	s.emit(ctx, storage.Event{Kind: storage.EventCommit, Started: started, Duration: s.mgr.now().Sub(started), Err: err})
	s.tx = nil
	if err != nil {
		s.restore(s.saved)
		s.saved = nil
		s.state = SessionRolledBack
		return &StoreError{Op: storage.EventCommit, Err: err}
	}
	s.saved = nil
	s.state = SessionCommitted
	return nil
}

// Rollback aborts the open transaction and rewinds the identity map, the
// snapshots and scheduled work to the state at Begin.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	tx := s.tx
	started := s.mgr.now()
	err := tx.Rollback(ctx)
	s.emit(ctx, storage.Event{Kind: storage.EventRollback, Started: started, Duration: s.mgr.now().Sub(started), Err: err})
	s.tx = nil
	s.restore(s.saved)
	s.saved = nil
	s.state = SessionRolledBack
	if err != nil {
		return &StoreError{Op: storage.EventRollback, Err: err}
	}
	return nil
}

// Transactional runs work inside a transaction, then flushes and commits.
// Any failure rolls back and is returned. The identity map survives the
// commit. Called inside an open transaction it joins it.
func (s *Session) Transactional(ctx context.Context, work func(ctx context.Context, s *Session) error) (err error) {
	if err := s.usable(); err != nil {
		return err
	}
	if s.tx != nil {
		return work(ctx, s)
	}
	if err := s.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if s.tx != nil {
				_ = s.Rollback(ctx)
			}
			panic(p)
		}
	}()
	if err := work(ctx, s); err != nil {
		if s.tx != nil {
			if rbErr := s.Rollback(ctx); rbErr != nil {
				return errors.Join(err, rbErr)
			}
		}
		return err
	}
	return s.Commit(ctx)
}

func position(list []*Entity, e *Entity) int {
	for i, cur := range list {
		if cur == e {
			return i
		}
	}
	return -1
}
