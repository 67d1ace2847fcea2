// Package identity defines the time-ordered identifier used as the primary
// key of every entity in the graph.
package identity

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when a string is not a canonical identifier.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ID is an immutable, comparable entity identifier. The zero value is unset.
type ID struct {
	value string
}

// New returns a fresh version 7 identifier; ids created later sort after ids
// created earlier.
func New() ID {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails.
		u = uuid.New()
	}
	return ID{value: u.String()}
}

// Parse validates s and returns the identifier in canonical lower-case form.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(s) != 36 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return ID{value: u.String()}, nil
}

// MustParse is Parse for literals in fixtures and tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the storage representation. Parse(id.String()) == id.
func (id ID) String() string { return id.value }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return id.value == "" }

// Equal compares by value.
func (id ID) Equal(other ID) bool { return id.value == other.value }

// Compare orders identifiers lexically, which for version 7 ids is creation order.
func (id ID) Compare(other ID) int { return strings.Compare(id.value, other.value) }

// Time returns the creation timestamp embedded in a version 7 identifier.
func (id ID) Time() (time.Time, bool) {
	u, err := uuid.Parse(id.value)
	if err != nil || u.Version() != 7 {
		return time.Time{}, false
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), true
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: zero value", ErrInvalidIdentifier)
	}
	return id.value, nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ID{}
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		if len(v) == 16 {
			u, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
			}
			*id = ID{value: u.String()}
			return nil
		}
		return id.Scan(string(v))
	case [16]byte:
		*id = ID{value: uuid.UUID(v).String()}
		return nil
	case ID:
		*id = v
		return nil
	default:
		return fmt.Errorf("%w: unsupported source %T", ErrInvalidIdentifier, src)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
