package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"entitygraph/pkg/identity"
	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

// FindOption tunes FindOne and Find.
type FindOption func(*findOptions)

type findOptions struct {
	populate    []string
	identityMap *bool
}

// WithPopulate eagerly loads the named relations. Paths may be dotted
// ("books.orders").
func WithPopulate(paths ...string) FindOption {
	return func(o *findOptions) { o.populate = append(o.populate, paths...) }
}

// WithIdentityMap overrides Config.DisableIdentityMap for one call. Disabled
// lookups return fresh, detached instances even when one is managed.
func WithIdentityMap(enabled bool) FindOption {
	return func(o *findOptions) { o.identityMap = &enabled }
}

// WithoutIdentityMap is WithIdentityMap(false).
func WithoutIdentityMap() FindOption { return WithIdentityMap(false) }

func (s *Session) findOptions(opts []FindOption) findOptions {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.identityMap == nil {
		enabled := !s.mgr.cfg.DisableIdentityMap
		o.identityMap = &enabled
	}
	return o
}

// Filter selects rows by equality. Keys are field names, the primary key,
// owning relation names (values *Entity or identity.ID) or "embedded.component".
type Filter map[string]any

// FindOne returns the instance for (kind, id), answering from the identity
// map when possible. A miss fails with a *NotFoundError.
func (s *Session) FindOne(ctx context.Context, kind string, id identity.ID, opts ...FindOption) (*Entity, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	desc, err := s.mgr.registry.Describe(kind)
	if err != nil {
		return nil, err
	}
	o := s.findOptions(opts)
	if !*o.identityMap {
		view := s.detachedView()
		e, err := view.findOne(ctx, desc, id, o)
		view.detachAll()
		return e, err
	}
	return s.findOne(ctx, desc, id, o)
}

func (s *Session) findOne(ctx context.Context, desc *mapping.Descriptor, id identity.ID, o findOptions) (*Entity, error) {
	e := s.identity.Get(desc.Kind, id)
	if e == nil {
		rows, err := s.selectRows(ctx, desc, []storage.Condition{{Column: desc.PrimaryKey, Value: id.String()}})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, &NotFoundError{Kind: desc.Kind, ID: id}
		}
		if e, err = s.adopt(desc, rows[0]); err != nil {
			return nil, err
		}
	}
	if e.state == StateRemoved {
		return nil, &NotFoundError{Kind: desc.Kind, ID: id}
	}
	if err := s.Populate(ctx, e, o.populate...); err != nil {
		return nil, err
	}
	return e, nil
}

// FindOneBy returns the first match of filter in primary key order.
func (s *Session) FindOneBy(ctx context.Context, kind string, filter Filter, opts ...FindOption) (*Entity, error) {
	found, err := s.Find(ctx, kind, filter, opts...)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s matching %v", ErrNotFound, kind, filter)
	}
	return found[0], nil
}

// Find returns every match of filter in primary key order. Rows already
// managed resolve to their managed instances unchanged.
func (s *Session) Find(ctx context.Context, kind string, filter Filter, opts ...FindOption) ([]*Entity, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	desc, err := s.mgr.registry.Describe(kind)
	if err != nil {
		return nil, err
	}
	where, err := conditions(desc, filter)
	if err != nil {
		return nil, err
	}
	o := s.findOptions(opts)
	target := s
	if !*o.identityMap {
		target = s.detachedView()
		defer target.detachAll()
	}
	rows, err := target.selectRows(ctx, desc, where, storage.Order{Column: desc.PrimaryKey})
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := target.adopt(desc, row)
		if err != nil {
			return nil, err
		}
		if e.state == StateRemoved {
			continue
		}
		out = append(out, e)
	}
	for _, e := range out {
		if err := target.Populate(ctx, e, o.populate...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func conditions(desc *mapping.Descriptor, filter Filter) ([]storage.Condition, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]storage.Condition, 0, len(keys))
	for _, k := range keys {
		v := filter[k]
		cond, err := condition(desc, k, v)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func condition(desc *mapping.Descriptor, key string, v any) (storage.Condition, error) {
	if key == desc.PrimaryKey {
		sv, err := mapping.Identifier.ToStorage(v)
		return storage.Condition{Column: desc.PrimaryKey, Value: sv}, err
	}
	if f, ok := desc.Field(key); ok {
		sv, err := f.Type.ToStorage(v)
		return storage.Condition{Column: f.Column, Value: sv}, err
	}
	if rel, ok := desc.Relation(key); ok && rel.Kind == mapping.ToOne {
		if e, ok := v.(*Entity); ok {
			if e == nil {
				return storage.Condition{Column: rel.JoinColumn}, nil
			}
			v = e.id
		}
		sv, err := mapping.Identifier.ToStorage(v)
		return storage.Condition{Column: rel.JoinColumn, Value: sv}, err
	}
	if name, comp, ok := strings.Cut(key, "."); ok {
		if em, ok := desc.EmbeddedField(name); ok {
			if f, ok := em.Field(comp); ok {
				sv, err := f.Type.ToStorage(v)
				return storage.Condition{Column: em.Column(f), Value: sv}, err
			}
		}
	}
	return storage.Condition{}, fmt.Errorf("%w: %s.%s", mapping.ErrUnknownField, desc.Kind, key)
}

// Populate loads the named relations of e, following dotted paths.
func (s *Session) Populate(ctx context.Context, e *Entity, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := s.usable(); err != nil {
		return err
	}
	for _, path := range paths {
		if err := s.populate(ctx, []*Entity{e}, strings.Split(path, ".")); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) populate(ctx context.Context, entities []*Entity, segments []string) error {
	if len(segments) == 0 || len(entities) == 0 {
		return nil
	}
	name := segments[0]
	var next []*Entity
	seen := make(map[*Entity]bool)
	push := func(es ...*Entity) {
		for _, n := range es {
			if n != nil && !seen[n] {
				seen[n] = true
				next = append(next, n)
			}
		}
	}
	for _, e := range entities {
		if c := e.collections[name]; c != nil {
			if err := c.Load(ctx, s); err != nil {
				return err
			}
			push(c.items...)
			continue
		}
		if r := e.refs[name]; r != nil {
			t, err := r.Load(ctx, s)
			if err != nil {
				return err
			}
			push(t)
			continue
		}
		return fmt.Errorf("%w: %s.%s is not a relation", mapping.ErrUnknownField, e.Kind(), name)
	}
	return s.populate(ctx, next, segments[1:])
}

// detachedView is a throwaway session sharing the store and the open
// transaction but not the identity map.
func (s *Session) detachedView() *Session {
	view := newSession(s.mgr, s.label)
	view.tx = s.tx
	return view
}

func (s *Session) detachAll() {
	for _, e := range s.identity.Clear() {
		e.state = StateDetached
	}
	s.tracker.Reset()
}
