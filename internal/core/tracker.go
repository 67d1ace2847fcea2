package core

import (
	"entitygraph/pkg/identity"
	"entitygraph/pkg/mapping"
)

// Snapshot is the committed baseline of one managed instance. Snapshots are
// replaced wholesale and never mutated in place.
type Snapshot struct {
	Values   mapping.Values
	Embedded map[string]EmbeddedValue
	Refs     map[string]identity.ID
	// Members holds the baseline of loaded collections only.
	Members map[string][]identity.ID
}

// CollectionChange lists membership differences of one collection.
type CollectionChange struct {
	Name    string
	Added   []identity.ID
	Removed []identity.ID
	// Reordered is set for ordered collections whose sequence changed.
	Reordered bool
}

// ChangeSet is the result of diffing an instance against its snapshot.
type ChangeSet struct {
	Entity      *Entity
	New         bool
	Fields      []string
	Embedded    []string
	References  []string
	Collections []CollectionChange
}

// Empty reports whether nothing differs.
func (c ChangeSet) Empty() bool {
	return !c.New && len(c.Fields) == 0 && len(c.Embedded) == 0 && len(c.References) == 0 && len(c.Collections) == 0
}

// Writable reports whether the owner's row needs a write. Collection changes
// are persisted through the members' owning references.
func (c ChangeSet) Writable() bool {
	return c.New || len(c.Fields) > 0 || len(c.Embedded) > 0 || len(c.References) > 0
}

// Has reports whether a named field, embedded value, reference or collection changed.
func (c ChangeSet) Has(name string) bool {
	for _, list := range [][]string{c.Fields, c.Embedded, c.References} {
		for _, n := range list {
			if n == name {
				return true
			}
		}
	}
	for _, cc := range c.Collections {
		if cc.Name == name {
			return true
		}
	}
	return false
}

// ChangeTracker keeps per-instance snapshots for one session.
type ChangeTracker struct {
	snapshots map[*Entity]*Snapshot
}

// NewChangeTracker returns an empty tracker.
func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{snapshots: make(map[*Entity]*Snapshot)}
}

// Take records the current state of e as its baseline.
func (t *ChangeTracker) Take(e *Entity) {
	t.snapshots[e] = capture(e)
}

// Commit replaces the baseline after a successful write.
func (t *ChangeTracker) Commit(e *Entity) { t.Take(e) }

// Forget drops the baseline of e.
func (t *ChangeTracker) Forget(e *Entity) { delete(t.snapshots, e) }

// Snapshot returns the baseline of e, or nil.
func (t *ChangeTracker) Snapshot(e *Entity) *Snapshot { return t.snapshots[e] }

// Tracked reports whether e has a baseline.
func (t *ChangeTracker) Tracked(e *Entity) bool {
	_, ok := t.snapshots[e]
	return ok
}

// Reset drops every baseline.
func (t *ChangeTracker) Reset() { t.snapshots = make(map[*Entity]*Snapshot) }

func (t *ChangeTracker) clone() *ChangeTracker {
	out := &ChangeTracker{snapshots: make(map[*Entity]*Snapshot, len(t.snapshots))}
	for k, v := range t.snapshots {
		out.snapshots[k] = v
	}
	return out
}

// recordMembers replaces the snapshot of e with one whose baseline for the
// named collection is ids. It is a no-op for untracked instances.
func (t *ChangeTracker) recordMembers(e *Entity, name string, ids []identity.ID) {
	prev, ok := t.snapshots[e]
	if !ok {
		return
	}
	next := *prev
	next.Members = make(map[string][]identity.ID, len(prev.Members)+1)
	for k, v := range prev.Members {
		next.Members[k] = v
	}
	next.Members[name] = append([]identity.ID(nil), ids...)
	t.snapshots[e] = &next
}

// Diff compares e with its baseline. It never modifies the tracker.
func (t *ChangeTracker) Diff(e *Entity) ChangeSet {
	cs := ChangeSet{Entity: e}
	snap, ok := t.snapshots[e]
	desc := e.desc
	if !ok {
		cs.New = true
		for _, f := range desc.Fields {
			cs.Fields = append(cs.Fields, f.Name)
		}
		for _, em := range desc.Embedded {
			cs.Embedded = append(cs.Embedded, em.Name)
		}
		for _, rel := range desc.Owning() {
			cs.References = append(cs.References, rel.Name)
		}
		return cs
	}
	for _, f := range desc.Fields {
		if !f.Type.Equal(snap.Values[f.Name], e.values[f.Name]) {
			cs.Fields = append(cs.Fields, f.Name)
		}
	}
	for _, em := range desc.Embedded {
		if !embeddedEqual(em, snap.Embedded[em.Name], e.embedded[em.Name]) {
			cs.Embedded = append(cs.Embedded, em.Name)
		}
	}
	for _, rel := range desc.Owning() {
		if !snap.Refs[rel.Name].Equal(e.refs[rel.Name].ID()) {
			cs.References = append(cs.References, rel.Name)
		}
	}
	for _, rel := range desc.Relations {
		if rel.Kind != mapping.ToMany {
			continue
		}
		base, recorded := snap.Members[rel.Name]
		coll := e.collections[rel.Name]
		if !recorded || coll.state != CollectionLoaded {
			continue
		}
		if cc, changed := diffMembers(rel, base, coll.ids()); changed {
			cs.Collections = append(cs.Collections, cc)
		}
	}
	return cs
}

// embeddedEqual compares component-wise, each component under its own type.
func embeddedEqual(def mapping.Embedded, a, b EmbeddedValue) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() == b.IsNull()
	}
	for _, f := range def.Fields {
		if !f.Type.Equal(a.values[f.Name], b.values[f.Name]) {
			return false
		}
	}
	return true
}

func diffMembers(rel mapping.Relation, base, current []identity.ID) (CollectionChange, bool) {
	cc := CollectionChange{Name: rel.Name}
	before := make(map[identity.ID]bool, len(base))
	for _, id := range base {
		before[id] = true
	}
	after := make(map[identity.ID]bool, len(current))
	for _, id := range current {
		after[id] = true
		if !before[id] {
			cc.Added = append(cc.Added, id)
		}
	}
	for _, id := range base {
		if !after[id] {
			cc.Removed = append(cc.Removed, id)
		}
	}
	changed := len(cc.Added) > 0 || len(cc.Removed) > 0
	if rel.Ordered && !changed && len(base) == len(current) {
		for i := range base {
			if !base[i].Equal(current[i]) {
				cc.Reordered = true
				changed = true
				break
			}
		}
	}
	return cc, changed
}

func capture(e *Entity) *Snapshot {
	snap := &Snapshot{
		Values:   e.values.Clone(),
		Embedded: make(map[string]EmbeddedValue, len(e.embedded)),
		Refs:     make(map[string]identity.ID),
		Members:  make(map[string][]identity.ID),
	}
	for k, v := range e.embedded {
		snap.Embedded[k] = v
	}
	for name, r := range e.refs {
		if r.rel.Kind == mapping.ToOne {
			snap.Refs[name] = r.ID()
		}
	}
	for name, c := range e.collections {
		if c.state == CollectionLoaded {
			snap.Members[name] = c.ids()
		}
	}
	return snap
}
