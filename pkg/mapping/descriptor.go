// Package mapping holds the entity metadata the session works from: value
// types, descriptors and the registry that owns them.
package mapping

import (
	"strings"
	"unicode"
)

// Values holds runtime field values keyed by field name.
type Values map[string]any

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Field describes one scalar persistent field.
type Field struct {
	Name     string
	Column   string
	Type     Type
	Nullable bool
}

// Embedded is a value object flattened into the owner's row.
type Embedded struct {
	Name   string
	Prefix string
	Fields []Field
}

// Column returns the owner-row column name of a component.
func (e Embedded) Column(f Field) string { return e.Prefix + f.Column }

// Field looks up a component by name.
func (e Embedded) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RelationKind distinguishes owning and inverse relation sides.
type RelationKind int

const (
	// ToOne is the owning side: the owner row holds the join column.
	ToOne RelationKind = iota + 1
	// ToOneInverse is a one-to-one resolved through the target's join column.
	ToOneInverse
	// ToMany is the inverse side of a ToOne on the target.
	ToMany
)

func (k RelationKind) String() string {
	switch k {
	case ToOne:
		return "to-one"
	case ToOneInverse:
		return "to-one-inverse"
	case ToMany:
		return "to-many"
	}
	return "unknown"
}

// Relation describes a navigable relationship.
type Relation struct {
	Name       string
	Kind       RelationKind
	Target     string
	JoinColumn string
	// MappedBy names the owning ToOne on the target for inverse sides.
	MappedBy string
	// InversedBy names the inverse collection on the target for owning sides.
	InversedBy string
	// OrderBy is a target field; loaded members are sorted by it ascending.
	OrderBy string
	// Ordered collections compare snapshots by sequence instead of membership.
	Ordered  bool
	Required bool
}

// Descriptor is the registered metadata for one entity kind.
type Descriptor struct {
	Kind       string
	Table      string
	PrimaryKey string
	Fields     []Field
	Embedded   []Embedded
	Relations  []Relation
	// Constructor returns the defaults a newly constructed instance starts
	// with. It runs for Create and, when forced, before hydration.
	Constructor func() Values
}

// Field looks up a scalar field by name.
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// EmbeddedField looks up an embedded value by name.
func (d *Descriptor) EmbeddedField(name string) (Embedded, bool) {
	for _, e := range d.Embedded {
		if e.Name == name {
			return e, true
		}
	}
	return Embedded{}, false
}

// Relation looks up a relation by name.
func (d *Descriptor) Relation(name string) (Relation, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Owning returns the ToOne relations, in declaration order.
func (d *Descriptor) Owning() []Relation {
	var out []Relation
	for _, r := range d.Relations {
		if r.Kind == ToOne {
			out = append(out, r)
		}
	}
	return out
}

// Columns returns every column of the table: primary key, scalar fields,
// embedded components, then owning join columns.
func (d *Descriptor) Columns() []string {
	cols := []string{d.PrimaryKey}
	for _, f := range d.Fields {
		cols = append(cols, f.Column)
	}
	for _, e := range d.Embedded {
		for _, f := range e.Fields {
			cols = append(cols, e.Column(f))
		}
	}
	for _, r := range d.Owning() {
		cols = append(cols, r.JoinColumn)
	}
	return cols
}

// Defaults returns the constructor defaults, or an empty set.
func (d *Descriptor) Defaults() Values {
	if d.Constructor == nil {
		return Values{}
	}
	if v := d.Constructor(); v != nil {
		return v
	}
	return Values{}
}

func (d Descriptor) normalized() Descriptor {
	out := d
	if out.Table == "" {
		out.Table = snake(d.Kind)
	}
	if out.PrimaryKey == "" {
		out.PrimaryKey = "id"
	}
	out.Fields = normalizeFields(d.Fields)
	out.Embedded = make([]Embedded, len(d.Embedded))
	for i, e := range d.Embedded {
		if e.Prefix == "" {
			e.Prefix = snake(e.Name) + "_"
		}
		e.Fields = normalizeFields(e.Fields)
		out.Embedded[i] = e
	}
	out.Relations = make([]Relation, len(d.Relations))
	for i, r := range d.Relations {
		if r.Kind == ToOne && r.JoinColumn == "" {
			r.JoinColumn = snake(r.Name) + "_id"
		}
		out.Relations[i] = r
	}
	return out
}

func normalizeFields(in []Field) []Field {
	out := make([]Field, len(in))
	for i, f := range in {
		if f.Column == "" {
			f.Column = snake(f.Name)
		}
		out[i] = f
	}
	return out
}

// snake converts camelCase to snake_case; digits stay attached to the
// preceding word.
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
