package core

import (
	"context"
	"fmt"
	"sort"

	"entitygraph/pkg/identity"
	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

// CollectionState tags whether a to-many handle holds its members.
type CollectionState int

const (
	// CollectionUninitialized handles have not been loaded.
	CollectionUninitialized CollectionState = iota
	// CollectionLoading handles are being loaded.
	CollectionLoading
	// CollectionLoaded handles hold their members.
	CollectionLoaded
)

func (s CollectionState) String() string {
	switch s {
	case CollectionUninitialized:
		return "uninitialized"
	case CollectionLoading:
		return "loading"
	case CollectionLoaded:
		return "loaded"
	}
	return "unknown"
}

// Collection is the handle of a to-many relation. Members are only readable
// once loaded; Add and Remove work in any state and are idempotent by id.
type Collection struct {
	owner   *Entity
	rel     mapping.Relation
	state   CollectionState
	items   []*Entity
	added   []*Entity
	removed map[identity.ID]bool
}

// Relation returns the relation metadata.
func (c *Collection) Relation() mapping.Relation { return c.rel }

// State returns the load state.
func (c *Collection) State() CollectionState { return c.state }

// Loaded reports whether members are readable.
func (c *Collection) Loaded() bool { return c.state == CollectionLoaded }

// Items returns the members in order.
func (c *Collection) Items() ([]*Entity, error) {
	if c.state != CollectionLoaded {
		return nil, fmt.Errorf("%w: %s.%s", ErrCollectionNotLoaded, c.owner.Kind(), c.rel.Name)
	}
	return append([]*Entity(nil), c.items...), nil
}

// Len returns the member count.
func (c *Collection) Len() (int, error) {
	if c.state != CollectionLoaded {
		return 0, fmt.Errorf("%w: %s.%s", ErrCollectionNotLoaded, c.owner.Kind(), c.rel.Name)
	}
	return len(c.items), nil
}

// Contains reports membership by id among loaded and pending members.
func (c *Collection) Contains(e *Entity) bool {
	return indexOf(c.items, e.id) >= 0 || indexOf(c.added, e.id) >= 0
}

// Add appends members not already present and points each member's owning
// reference at the collection owner.
func (c *Collection) Add(members ...*Entity) error {
	for _, m := range members {
		if m == nil {
			continue
		}
		if m.Kind() != c.rel.Target {
			return fmt.Errorf("%w: %s.%s expects %s, got %s", ErrKindMismatch, c.owner.Kind(), c.rel.Name, c.rel.Target, m.Kind())
		}
		c.attach(m)
		if ref := m.refs[c.rel.MappedBy]; ref != nil && ref.target != c.owner {
			if prev := ref.target; prev != nil {
				detachInverse(prev, c.rel.Name, m)
			}
			ref.assign(c.owner)
		}
	}
	return nil
}

// Remove drops members by id and clears their owning reference when it
// still points at the collection owner.
func (c *Collection) Remove(members ...*Entity) {
	for _, m := range members {
		if m == nil {
			continue
		}
		c.detach(m)
		if ref := m.refs[c.rel.MappedBy]; ref != nil && ref.ID().Equal(c.owner.id) {
			ref.assign(nil)
		}
	}
}

func (c *Collection) attach(m *Entity) {
	if c.removed != nil {
		delete(c.removed, m.id)
	}
	if c.state == CollectionLoaded {
		if indexOf(c.items, m.id) < 0 {
			c.items = append(c.items, m)
		}
		return
	}
	if indexOf(c.added, m.id) < 0 {
		c.added = append(c.added, m)
	}
}

func (c *Collection) detach(m *Entity) {
	if c.state == CollectionLoaded {
		if i := indexOf(c.items, m.id); i >= 0 {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
		}
		return
	}
	if i := indexOf(c.added, m.id); i >= 0 {
		c.added = append(c.added[:i:i], c.added[i+1:]...)
		return
	}
	if c.removed == nil {
		c.removed = make(map[identity.ID]bool)
	}
	c.removed[m.id] = true
}

// members returns loaded and pending members without loading.
func (c *Collection) members() []*Entity {
	if c.state == CollectionLoaded {
		return c.items
	}
	return c.added
}

func (c *Collection) ids() []identity.ID {
	out := make([]identity.ID, len(c.items))
	for i, m := range c.items {
		out[i] = m.id
	}
	return out
}

// Load fetches the members through s when the collection is not loaded yet.
func (c *Collection) Load(ctx context.Context, s *Session) error {
	switch c.state {
	case CollectionLoaded:
		return nil
	case CollectionLoading:
		return fmt.Errorf("%w: %s.%s", ErrCollectionLoading, c.owner.Kind(), c.rel.Name)
	}
	return c.load(ctx, s)
}

// EnsureLoaded is Load.
func (c *Collection) EnsureLoaded(ctx context.Context, s *Session) error { return c.Load(ctx, s) }

// Refresh reloads members and re-applies the declared order. In-memory
// additions and removals since the last load are kept; members that were
// part of the loaded baseline follow the store.
func (c *Collection) Refresh(ctx context.Context, s *Session) error {
	if c.state == CollectionLoading {
		return fmt.Errorf("%w: %s.%s", ErrCollectionLoading, c.owner.Kind(), c.rel.Name)
	}
	if c.state == CollectionLoaded {
		var baseline []identity.ID
		if snap := s.tracker.Snapshot(c.owner); snap != nil {
			baseline = snap.Members[c.rel.Name]
		}
		c.added = nil
		for _, m := range c.items {
			if !containsID(baseline, m.id) {
				c.added = append(c.added, m)
			}
		}
		c.removed = nil
		for _, id := range baseline {
			if indexOf(c.items, id) < 0 {
				if c.removed == nil {
					c.removed = make(map[identity.ID]bool)
				}
				c.removed[id] = true
			}
		}
		c.items = nil
		c.state = CollectionUninitialized
	}
	return c.load(ctx, s)
}

func containsID(ids []identity.ID, id identity.ID) bool {
	for _, cur := range ids {
		if cur.Equal(id) {
			return true
		}
	}
	return false
}

func (c *Collection) load(ctx context.Context, s *Session) error {
	if err := s.usable(); err != nil {
		return err
	}
	desc, err := s.mgr.registry.Describe(c.rel.Target)
	if err != nil {
		return err
	}
	owning, _ := desc.Relation(c.rel.MappedBy)
	c.state = CollectionLoading
	rows, err := s.selectRows(ctx, desc, []storage.Condition{{Column: owning.JoinColumn, Value: c.owner.id.String()}}, memberOrder(desc, c.rel.OrderBy)...)
	if err != nil {
		c.state = CollectionUninitialized
		return err
	}
	loaded := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		m, err := s.adopt(desc, row)
		if err != nil {
			c.state = CollectionUninitialized
			return err
		}
		// A member moved elsewhere in memory no longer belongs here.
		if ref := m.refs[c.rel.MappedBy]; ref != nil && !ref.ID().Equal(c.owner.id) {
			continue
		}
		if ref := m.refs[c.rel.MappedBy]; ref != nil && ref.target == nil {
			ref.attachTo(c.owner)
		}
		if c.removed[m.id] || indexOf(loaded, m.id) >= 0 {
			continue
		}
		loaded = append(loaded, m)
	}
	sortMembers(desc, c.rel.OrderBy, loaded)
	baseline := make([]identity.ID, len(loaded))
	for i, m := range loaded {
		baseline[i] = m.id
	}
	for _, m := range c.added {
		if indexOf(loaded, m.id) < 0 {
			loaded = append(loaded, m)
		}
	}
	c.items = loaded
	c.added = nil
	c.removed = nil
	c.state = CollectionLoaded
	s.tracker.recordMembers(c.owner, c.rel.Name, baseline)
	return nil
}

// memberOrder asks the store for the declared order, falling back to the
// primary key so results are deterministic.
func memberOrder(desc *mapping.Descriptor, orderBy string) []storage.Order {
	if orderBy == "" || orderBy == desc.PrimaryKey {
		return []storage.Order{{Column: desc.PrimaryKey}}
	}
	if f, ok := desc.Field(orderBy); ok {
		return []storage.Order{{Column: f.Column}, {Column: desc.PrimaryKey}}
	}
	return []storage.Order{{Column: desc.PrimaryKey}}
}

// sortMembers orders members ascending by the named field, stably.
func sortMembers(desc *mapping.Descriptor, orderBy string, members []*Entity) {
	if orderBy == "" {
		return
	}
	if orderBy == desc.PrimaryKey {
		sort.SliceStable(members, func(i, j int) bool { return members[i].id.Compare(members[j].id) < 0 })
		return
	}
	f, ok := desc.Field(orderBy)
	if !ok {
		return
	}
	cmp, ok := f.Type.(mapping.Comparer)
	if !ok {
		return
	}
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i].values[orderBy], members[j].values[orderBy]
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		}
		return cmp.Compare(a, b) < 0
	})
}

func indexOf(list []*Entity, id identity.ID) int {
	for i, e := range list {
		if e.id.Equal(id) {
			return i
		}
	}
	return -1
}
