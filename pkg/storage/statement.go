// Package storage is the boundary between the session and a backing store:
// parameterised statements, the executor contracts and the statement events
// observers receive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op is a statement verb.
type Op string

// Statement verbs.
const (
	OpSelect Op = "SELECT"
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ErrMalformedStatement is returned when a statement cannot be rendered.
var ErrMalformedStatement = errors.New("malformed statement")

// Condition is an equality predicate. A nil Value matches NULL.
type Condition struct {
	Column string
	Value  any
}

// Order sorts a select result.
type Order struct {
	Column string
	Desc   bool
}

// Statement is a single parameterised operation against one table. For
// SELECT, Columns is the projection; for INSERT and UPDATE, Columns and Values
// are parallel.
type Statement struct {
	Op      Op
	Table   string
	Columns []string
	Values  []any
	Where   []Condition
	OrderBy []Order
}

// Row is one result row keyed by column name.
type Row map[string]any

// Result carries rows for SELECT and the affected count for writes.
type Result struct {
	Rows         []Row
	RowsAffected int64
}

// Dialect selects placeholder syntax.
type Dialect int

const (
	// Generic renders ? placeholders; used for logs.
	Generic Dialect = iota
	// SQLite renders ? placeholders.
	SQLite
	// Postgres renders $n placeholders.
	Postgres
)

// Validate checks the statement is renderable.
func (s Statement) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("%w: missing table", ErrMalformedStatement)
	}
	switch s.Op {
	case OpSelect:
	case OpInsert, OpUpdate:
		if len(s.Columns) == 0 || len(s.Columns) != len(s.Values) {
			return fmt.Errorf("%w: %s %s has %d columns and %d values", ErrMalformedStatement, s.Op, s.Table, len(s.Columns), len(s.Values))
		}
		if s.Op == OpUpdate && len(s.Where) == 0 {
			return fmt.Errorf("%w: UPDATE %s without predicate", ErrMalformedStatement, s.Table)
		}
	case OpDelete:
		if len(s.Where) == 0 {
			return fmt.Errorf("%w: DELETE %s without predicate", ErrMalformedStatement, s.Table)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformedStatement, s.Op)
	}
	return nil
}

// Render produces the SQL text and bound arguments for a dialect.
func (s Statement) Render(d Dialect) (string, []any, error) {
	if err := s.Validate(); err != nil {
		return "", nil, err
	}
	var (
		b    strings.Builder
		args []any
	)
	bind := func(v any) string {
		args = append(args, v)
		if d == Postgres {
			return "$" + strconv.Itoa(len(args))
		}
		return "?"
	}
	switch s.Op {
	case OpSelect:
		b.WriteString("SELECT ")
		if len(s.Columns) == 0 {
			b.WriteString("*")
		} else {
			b.WriteString(strings.Join(s.Columns, ", "))
		}
		b.WriteString(" FROM ")
		b.WriteString(s.Table)
	case OpInsert:
		b.WriteString("INSERT INTO ")
		b.WriteString(s.Table)
		b.WriteString(" (")
		b.WriteString(strings.Join(s.Columns, ", "))
		b.WriteString(") VALUES (")
		for i, v := range s.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(bind(v))
		}
		b.WriteString(")")
	case OpUpdate:
		b.WriteString("UPDATE ")
		b.WriteString(s.Table)
		b.WriteString(" SET ")
		for i, col := range s.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col)
			b.WriteString(" = ")
			b.WriteString(bind(s.Values[i]))
		}
	case OpDelete:
		b.WriteString("DELETE FROM ")
		b.WriteString(s.Table)
	}
	if len(s.Where) > 0 {
		b.WriteString(" WHERE ")
		for i, c := range s.Where {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(c.Column)
			if c.Value == nil {
				b.WriteString(" IS NULL")
				continue
			}
			b.WriteString(" = ")
			b.WriteString(bind(c.Value))
		}
	}
	if s.Op == OpSelect && len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Column)
			if o.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	return b.String(), args, nil
}

// String renders the statement for logs.
func (s Statement) String() string {
	q, _, err := s.Render(Generic)
	if err != nil {
		return fmt.Sprintf("%s %s (invalid: %v)", s.Op, s.Table, err)
	}
	return q
}

// Executor runs statements.
type Executor interface {
	Execute(ctx context.Context, stmt Statement) (Result, error)
}

// Tx is an open store transaction.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is a backing store. Execute outside a transaction runs in autocommit
// mode.
type Store interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
