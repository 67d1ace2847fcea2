package core

import (
	"sync/atomic"

	"entitygraph/pkg/identity"
)

var seqCounter atomic.Uint64

// nextSeq orders instances by construction so flush output is deterministic
// within a kind.
func nextSeq() uint64 { return seqCounter.Add(1) }

type identityKey struct {
	kind string
	id   string
}

// IdentityMap holds at most one instance per (kind, id). It is local to a
// session and not synchronised.
type IdentityMap struct {
	entries map[identityKey]*Entity
	order   []*Entity
}

// NewIdentityMap returns an empty map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[identityKey]*Entity)}
}

// Get returns the managed instance for (kind, id), or nil.
func (m *IdentityMap) Get(kind string, id identity.ID) *Entity {
	return m.entries[identityKey{kind, id.String()}]
}

// Contains is a pure existence check.
func (m *IdentityMap) Contains(kind string, id identity.ID) bool {
	_, ok := m.entries[identityKey{kind, id.String()}]
	return ok
}

// Put registers e. It reports false when another instance already holds the identity.
func (m *IdentityMap) Put(e *Entity) bool {
	key := identityKey{e.Kind(), e.ID().String()}
	if existing, ok := m.entries[key]; ok {
		return existing == e
	}
	m.entries[key] = e
	m.order = append(m.order, e)
	return true
}

// Delete unregisters e.
func (m *IdentityMap) Delete(e *Entity) {
	key := identityKey{e.Kind(), e.ID().String()}
	if m.entries[key] != e {
		return
	}
	delete(m.entries, key)
	for i, cur := range m.order {
		if cur == e {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of managed instances.
func (m *IdentityMap) Len() int { return len(m.entries) }

// Entities returns managed instances in adoption order.
func (m *IdentityMap) Entities() []*Entity {
	return append([]*Entity(nil), m.order...)
}

// Clear empties the map and returns what it held.
func (m *IdentityMap) Clear() []*Entity {
	out := m.order
	m.entries = make(map[identityKey]*Entity)
	m.order = nil
	return out
}

func (m *IdentityMap) clone() *IdentityMap {
	out := &IdentityMap{
		entries: make(map[identityKey]*Entity, len(m.entries)),
		order:   append([]*Entity(nil), m.order...),
	}
	for k, v := range m.entries {
		out.entries[k] = v
	}
	return out
}
