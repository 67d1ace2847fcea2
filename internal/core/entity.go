package core

import (
	"fmt"

	"entitygraph/pkg/identity"
	"entitygraph/pkg/mapping"
)

// State is an entity's lifecycle position relative to a session.
type State int

const (
	// StateNew instances were constructed in memory and have not been written.
	StateNew State = iota
	// StateManaged instances are registered in an identity map.
	StateManaged
	// StateRemoved instances are scheduled for deletion at the next flush.
	StateRemoved
	// StateDetached instances are no longer tracked by any session.
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateManaged:
		return "managed"
	case StateRemoved:
		return "removed"
	case StateDetached:
		return "detached"
	}
	return "unknown"
}

// EmbeddedValue is an immutable value object stored in its owner's row.
// The zero value is a NULL embedded value.
type EmbeddedValue struct {
	values mapping.Values
}

// Embed builds an embedded value from component values.
func Embed(values mapping.Values) EmbeddedValue {
	if values == nil {
		return EmbeddedValue{}
	}
	return EmbeddedValue{values: values.Clone()}
}

// Get returns a component value.
func (v EmbeddedValue) Get(name string) any { return v.values[name] }

// With returns a copy with one component replaced.
func (v EmbeddedValue) With(name string, value any) EmbeddedValue {
	out := v.values.Clone()
	out[name] = value
	return EmbeddedValue{values: out}
}

// IsNull reports whether the value is absent.
func (v EmbeddedValue) IsNull() bool { return v.values == nil }

// Values returns a copy of the components.
func (v EmbeddedValue) Values() mapping.Values {
	if v.values == nil {
		return nil
	}
	return v.values.Clone()
}

// Entity is one in-memory instance of a registered kind.
type Entity struct {
	desc        *mapping.Descriptor
	id          identity.ID
	values      mapping.Values
	embedded    map[string]EmbeddedValue
	refs        map[string]*Reference
	collections map[string]*Collection
	state       State
	seq         uint64
}

// New constructs an unmanaged instance, applying the descriptor's constructor
// defaults and then values. Values may hold scalar fields, embedded values
// (EmbeddedValue or mapping.Values), owning references (*Entity) and
// collection members ([]*Entity). A missing "id" is generated.
func New(desc *mapping.Descriptor, values mapping.Values) (*Entity, error) {
	e := blank(desc)
	e.collectionsLoaded()
	if err := e.assign(desc.Defaults()); err != nil {
		return nil, err
	}
	if err := e.assign(values); err != nil {
		return nil, err
	}
	if e.id.IsZero() {
		e.id = identity.New()
	}
	return e, nil
}

func blank(desc *mapping.Descriptor) *Entity {
	e := &Entity{
		desc:        desc,
		values:      make(mapping.Values, len(desc.Fields)),
		embedded:    make(map[string]EmbeddedValue, len(desc.Embedded)),
		refs:        make(map[string]*Reference),
		collections: make(map[string]*Collection),
		state:       StateNew,
		seq:         nextSeq(),
	}
	for _, rel := range desc.Relations {
		switch rel.Kind {
		case mapping.ToOne, mapping.ToOneInverse:
			e.refs[rel.Name] = &Reference{owner: e, rel: rel}
		case mapping.ToMany:
			e.collections[rel.Name] = &Collection{owner: e, rel: rel}
		}
	}
	return e
}

func (e *Entity) collectionsLoaded() {
	for _, c := range e.collections {
		c.state = CollectionLoaded
	}
	for _, r := range e.refs {
		if r.rel.Kind == mapping.ToOneInverse {
			r.resolved = true
		}
	}
}

func (e *Entity) assign(values mapping.Values) error {
	for name, v := range values {
		if name == e.desc.PrimaryKey {
			id, err := mapping.Identifier.ToRuntime(v)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", e.desc.Kind, name, err)
			}
			if id != nil {
				e.id = id.(identity.ID)
			}
			continue
		}
		if _, ok := e.desc.Field(name); ok {
			if err := e.Set(name, v); err != nil {
				return err
			}
			continue
		}
		if _, ok := e.desc.EmbeddedField(name); ok {
			var ev EmbeddedValue
			switch typed := v.(type) {
			case EmbeddedValue:
				ev = typed
			case mapping.Values:
				ev = Embed(typed)
			case map[string]any:
				ev = Embed(typed)
			case nil:
			default:
				return fmt.Errorf("%s.%s: expected embedded value, got %T", e.desc.Kind, name, v)
			}
			if err := e.SetEmbedded(name, ev); err != nil {
				return err
			}
			continue
		}
		if r, ok := e.refs[name]; ok {
			var target *Entity
			if v != nil {
				t, ok := v.(*Entity)
				if !ok {
					return fmt.Errorf("%s.%s: expected *Entity, got %T", e.desc.Kind, name, v)
				}
				target = t
			}
			if err := r.Set(target); err != nil {
				return err
			}
			continue
		}
		if c, ok := e.collections[name]; ok {
			members, ok := v.([]*Entity)
			if !ok {
				return fmt.Errorf("%s.%s: expected []*Entity, got %T", e.desc.Kind, name, v)
			}
			if err := c.Add(members...); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("%w: %s.%s", mapping.ErrUnknownField, e.desc.Kind, name)
	}
	return nil
}

// Kind returns the registered kind name.
func (e *Entity) Kind() string { return e.desc.Kind }

// ID returns the primary key.
func (e *Entity) ID() identity.ID { return e.id }

// Descriptor returns the registered metadata.
func (e *Entity) Descriptor() *mapping.Descriptor { return e.desc }

// State returns the lifecycle state.
func (e *Entity) State() State { return e.state }

func (e *Entity) String() string { return e.desc.Kind + "(" + e.id.String() + ")" }

// Get returns a scalar field value, or nil when unset.
func (e *Entity) Get(name string) any { return e.values[name] }

// Set assigns a scalar field, normalising it through the field's type.
func (e *Entity) Set(name string, value any) error {
	f, ok := e.desc.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", mapping.ErrUnknownField, e.desc.Kind, name)
	}
	rt, err := f.Type.ToRuntime(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.desc.Kind, name, err)
	}
	e.values[name] = rt
	return nil
}

// Embedded returns an embedded value.
func (e *Entity) Embedded(name string) EmbeddedValue { return e.embedded[name] }

// SetEmbedded replaces an embedded value; components are normalised through
// their types.
func (e *Entity) SetEmbedded(name string, v EmbeddedValue) error {
	def, ok := e.desc.EmbeddedField(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", mapping.ErrUnknownField, e.desc.Kind, name)
	}
	if v.IsNull() {
		e.embedded[name] = EmbeddedValue{}
		return nil
	}
	out := make(mapping.Values, len(def.Fields))
	for comp, raw := range v.values {
		f, ok := def.Field(comp)
		if !ok {
			return fmt.Errorf("%w: %s.%s.%s", mapping.ErrUnknownField, e.desc.Kind, name, comp)
		}
		rt, err := f.Type.ToRuntime(raw)
		if err != nil {
			return fmt.Errorf("%s.%s.%s: %w", e.desc.Kind, name, comp, err)
		}
		out[comp] = rt
	}
	e.embedded[name] = EmbeddedValue{values: out}
	return nil
}

// Ref returns the handle of a to-one relation, or nil when name is not one.
func (e *Entity) Ref(name string) *Reference { return e.refs[name] }

// Collection returns the handle of a to-many relation, or nil when name is not one.
func (e *Entity) Collection(name string) *Collection { return e.collections[name] }

// Values returns a copy of the scalar field values.
func (e *Entity) Values() mapping.Values { return e.values.Clone() }
