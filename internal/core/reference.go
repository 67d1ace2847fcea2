package core

import (
	"context"
	"fmt"

	"entitygraph/pkg/identity"
	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

// Reference is the handle of a to-one relation. For owning relations it holds
// the foreign key; the target instance is attached once resolved. Reading a
// reference never performs I/O: call Load to resolve it.
type Reference struct {
	owner    *Entity
	rel      mapping.Relation
	id       identity.ID
	target   *Entity
	resolved bool
}

// Relation returns the relation metadata.
func (r *Reference) Relation() mapping.Relation { return r.rel }

// ID returns the target identifier. For inverse relations it is only known
// once resolved.
func (r *Reference) ID() identity.ID {
	if r.target != nil {
		return r.target.id
	}
	return r.id
}

// IsSet reports whether the relation points at something.
func (r *Reference) IsSet() bool { return !r.ID().IsZero() }

// Entity returns the attached target, or nil when unset or unresolved.
func (r *Reference) Entity() *Entity { return r.target }

// Resolved reports whether the target instance is attached (or known absent).
func (r *Reference) Resolved() bool {
	return r.resolved || r.target != nil || (r.rel.Kind == mapping.ToOne && r.id.IsZero())
}

// Set points the relation at target (nil clears it) and keeps the target's
// inverse side in step.
func (r *Reference) Set(target *Entity) error {
	if target != nil && target.Kind() != r.rel.Target {
		return fmt.Errorf("%w: %s.%s expects %s, got %s", ErrKindMismatch, r.owner.Kind(), r.rel.Name, r.rel.Target, target.Kind())
	}
	if r.rel.Kind == mapping.ToOneInverse {
		return r.setInverse(target)
	}
	if prev := r.target; prev != nil && prev != target {
		detachInverse(prev, inverseName(r.rel, r.owner.Kind(), prev), r.owner)
	}
	r.assign(target)
	if target != nil {
		attachInverse(target, inverseName(r.rel, r.owner.Kind(), target), r.owner)
	}
	return nil
}

// inverseName finds the inverse side of an owning relation on target, either
// declared through InversedBy or discovered through the target's MappedBy.
func inverseName(rel mapping.Relation, owner string, target *Entity) string {
	if rel.InversedBy != "" {
		return rel.InversedBy
	}
	for _, tr := range target.desc.Relations {
		if tr.Kind != mapping.ToOne && tr.MappedBy == rel.Name && tr.Target == owner {
			return tr.Name
		}
	}
	return ""
}

// setInverse delegates to the owning side on the target.
func (r *Reference) setInverse(target *Entity) error {
	if prev := r.target; prev != nil && prev != target {
		if owning := prev.refs[r.rel.MappedBy]; owning != nil && owning.target == r.owner {
			owning.assign(nil)
		}
	}
	r.target = target
	r.resolved = true
	if target == nil {
		return nil
	}
	owning := target.refs[r.rel.MappedBy]
	if owning == nil {
		return fmt.Errorf("%w: %s.%s", mapping.ErrUnknownField, target.Kind(), r.rel.MappedBy)
	}
	owning.assign(r.owner)
	return nil
}

// assign updates this side only.
func (r *Reference) assign(target *Entity) {
	r.target = target
	r.resolved = true
	if target == nil {
		r.id = identity.ID{}
		return
	}
	r.id = target.id
}

// attachTo links a hydrated foreign key to an already managed instance.
func (r *Reference) attachTo(target *Entity) {
	r.target = target
	r.resolved = true
}

func attachInverse(target *Entity, inverse string, owner *Entity) {
	if inverse == "" {
		return
	}
	if c := target.collections[inverse]; c != nil {
		c.attach(owner)
		return
	}
	if ref := target.refs[inverse]; ref != nil {
		ref.target = owner
		ref.resolved = true
	}
}

func detachInverse(target *Entity, inverse string, owner *Entity) {
	if inverse == "" {
		return
	}
	if c := target.collections[inverse]; c != nil {
		c.detach(owner)
		return
	}
	if ref := target.refs[inverse]; ref != nil && ref.target == owner {
		ref.target = nil
	}
}

// Load resolves the target through s. Owning relations are answered from the
// identity map when possible; otherwise the row is selected. A foreign key to
// a missing row fails with a *DanglingReferenceError.
func (r *Reference) Load(ctx context.Context, s *Session) (*Entity, error) {
	if r.target != nil {
		return r.target, nil
	}
	if err := s.usable(); err != nil {
		return nil, err
	}
	desc, err := s.mgr.registry.Describe(r.rel.Target)
	if err != nil {
		return nil, err
	}
	if r.rel.Kind == mapping.ToOneInverse {
		return r.loadInverse(ctx, s, desc)
	}
	if r.id.IsZero() {
		return nil, nil
	}
	if e := s.identity.Get(desc.Kind, r.id); e != nil {
		r.attachTo(e)
		return e, nil
	}
	rows, err := s.selectRows(ctx, desc, []storage.Condition{{Column: desc.PrimaryKey, Value: r.id.String()}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &DanglingReferenceError{Kind: r.owner.Kind(), Relation: r.rel.Name, Target: r.rel.Target, ID: r.id}
	}
	e, err := s.adopt(desc, rows[0])
	if err != nil {
		return nil, err
	}
	r.attachTo(e)
	return e, nil
}

func (r *Reference) loadInverse(ctx context.Context, s *Session, desc *mapping.Descriptor) (*Entity, error) {
	if r.resolved {
		return r.target, nil
	}
	owning, _ := desc.Relation(r.rel.MappedBy)
	rows, err := s.selectRows(ctx, desc, []storage.Condition{{Column: owning.JoinColumn, Value: r.owner.id.String()}}, storage.Order{Column: desc.PrimaryKey})
	if err != nil {
		return nil, err
	}
	r.resolved = true
	if len(rows) == 0 {
		return nil, nil
	}
	e, err := s.adopt(desc, rows[0])
	if err != nil {
		return nil, err
	}
	r.target = e
	return e, nil
}
