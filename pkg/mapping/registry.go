package mapping

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownEntity is returned when a kind has no registered descriptor.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrDescriptorConflict is returned when a kind is registered twice with different shapes.
	ErrDescriptorConflict = errors.New("descriptor conflict")
	// ErrInvalidDescriptor is returned for malformed or inconsistent descriptors.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	// ErrRegistrySealed is returned when registering a new kind after startup.
	ErrRegistrySealed = errors.New("registry sealed")
	// ErrUnknownField is returned when a field, embedded value or relation name does not exist.
	ErrUnknownField = errors.New("unknown field")
)

// Registry maps entity kinds to descriptors. It is written during startup and
// read-only once sealed; all methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	kinds  map[string]*Descriptor
	order  []string
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Registering an identical shape again is a no-op.
func (r *Registry) Register(d Descriptor) error {
	if err := checkShape(d); err != nil {
		return err
	}
	n := d.normalized()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.kinds[n.Kind]; ok {
		if !sameShape(*existing, n) {
			return fmt.Errorf("%w: %s", ErrDescriptorConflict, n.Kind)
		}
		return nil
	}
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, n.Kind)
	}
	r.kinds[n.Kind] = &n
	r.order = append(r.order, n.Kind)
	return nil
}

// MustRegister panics on registration errors; used by fixture catalogs.
func (r *Registry) MustRegister(ds ...Descriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Describe returns the descriptor for kind.
func (r *Registry) Describe(kind string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, kind)
	}
	return d, nil
}

// Kinds returns registered kinds in registration order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Index returns the registration rank of kind, or -1.
func (r *Registry) Index(kind string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, k := range r.order {
		if k == kind {
			return i
		}
	}
	return -1
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Seal validates cross references and freezes the registry. Sealing twice is a no-op.
func (r *Registry) Seal() error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
	return nil
}

// Validate checks that every relation points at a registered kind with a
// matching counterpart.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, kind := range r.order {
		d := r.kinds[kind]
		for _, rel := range d.Relations {
			target, ok := r.kinds[rel.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s.%s targets unregistered %s", ErrInvalidDescriptor, kind, rel.Name, rel.Target))
				continue
			}
			switch rel.Kind {
			case ToMany, ToOneInverse:
				owning, ok := target.Relation(rel.MappedBy)
				if !ok || owning.Kind != ToOne || owning.Target != kind {
					errs = append(errs, fmt.Errorf("%w: %s.%s mappedBy %s.%s is not an owning relation to %s", ErrInvalidDescriptor, kind, rel.Name, rel.Target, rel.MappedBy, kind))
				}
				if rel.OrderBy != "" && rel.OrderBy != target.PrimaryKey {
					if _, ok := target.Field(rel.OrderBy); !ok {
						errs = append(errs, fmt.Errorf("%w: %s.%s orderBy %s is not a field of %s", ErrInvalidDescriptor, kind, rel.Name, rel.OrderBy, rel.Target))
					}
				}
			case ToOne:
				if rel.InversedBy == "" {
					continue
				}
				inverse, ok := target.Relation(rel.InversedBy)
				if !ok || (inverse.Kind != ToMany && inverse.Kind != ToOneInverse) || inverse.MappedBy != rel.Name {
					errs = append(errs, fmt.Errorf("%w: %s.%s inversedBy %s.%s does not map back", ErrInvalidDescriptor, kind, rel.Name, rel.Target, rel.InversedBy))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func checkShape(d Descriptor) error {
	if d.Kind == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidDescriptor)
	}
	seen := map[string]bool{}
	claim := func(name string) error {
		if name == "" {
			return fmt.Errorf("%w: %s has an unnamed member", ErrInvalidDescriptor, d.Kind)
		}
		if seen[name] {
			return fmt.Errorf("%w: %s declares %s twice", ErrInvalidDescriptor, d.Kind, name)
		}
		seen[name] = true
		return nil
	}
	for _, f := range d.Fields {
		if err := claim(f.Name); err != nil {
			return err
		}
		if f.Type == nil {
			return fmt.Errorf("%w: %s.%s has no type", ErrInvalidDescriptor, d.Kind, f.Name)
		}
	}
	for _, e := range d.Embedded {
		if err := claim(e.Name); err != nil {
			return err
		}
		if len(e.Fields) == 0 {
			return fmt.Errorf("%w: %s.%s embeds no fields", ErrInvalidDescriptor, d.Kind, e.Name)
		}
		for _, f := range e.Fields {
			if f.Type == nil {
				return fmt.Errorf("%w: %s.%s.%s has no type", ErrInvalidDescriptor, d.Kind, e.Name, f.Name)
			}
		}
	}
	for _, rel := range d.Relations {
		if err := claim(rel.Name); err != nil {
			return err
		}
		if rel.Target == "" {
			return fmt.Errorf("%w: %s.%s has no target", ErrInvalidDescriptor, d.Kind, rel.Name)
		}
		switch rel.Kind {
		case ToOne:
		case ToMany, ToOneInverse:
			if rel.MappedBy == "" {
				return fmt.Errorf("%w: %s.%s needs mappedBy", ErrInvalidDescriptor, d.Kind, rel.Name)
			}
		default:
			return fmt.Errorf("%w: %s.%s has unknown relation kind", ErrInvalidDescriptor, d.Kind, rel.Name)
		}
	}
	return nil
}

func sameShape(a, b Descriptor) bool {
	if a.Kind != b.Kind || a.Table != b.Table || a.PrimaryKey != b.PrimaryKey {
		return false
	}
	if !sameFields(a.Fields, b.Fields) || len(a.Embedded) != len(b.Embedded) || len(a.Relations) != len(b.Relations) {
		return false
	}
	for i := range a.Embedded {
		if a.Embedded[i].Name != b.Embedded[i].Name || a.Embedded[i].Prefix != b.Embedded[i].Prefix ||
			!sameFields(a.Embedded[i].Fields, b.Embedded[i].Fields) {
			return false
		}
	}
	for i := range a.Relations {
		if a.Relations[i] != b.Relations[i] {
			return false
		}
	}
	return true
}

func sameFields(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Column != b[i].Column || a[i].Nullable != b[i].Nullable ||
			a[i].Type.Name() != b[i].Type.Name() {
			return false
		}
	}
	return true
}
