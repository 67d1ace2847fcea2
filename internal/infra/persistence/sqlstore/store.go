// Package sqlstore runs statements against a database/sql handle. The SQLite
// and Postgres stores wrap it with driver-specific opening and DDL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"entitygraph/pkg/storage"
)

// Compile-time contract assertions.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*Tx)(nil)
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store executes rendered statements on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect storage.Dialect
}

// New wraps db; dialect selects placeholder syntax.
func New(db *sql.DB, dialect storage.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the placeholder dialect.
func (s *Store) Dialect() storage.Dialect { return s.dialect }

// Execute runs stmt outside any transaction.
func (s *Store) Execute(ctx context.Context, stmt storage.Statement) (storage.Result, error) {
	return run(ctx, s.db, s.dialect, stmt)
}

// Begin opens a database transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, dialect: s.dialect}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Tx is an open database transaction.
type Tx struct {
	tx      *sql.Tx
	dialect storage.Dialect
}

// Execute runs stmt inside the transaction.
func (t *Tx) Execute(ctx context.Context, stmt storage.Statement) (storage.Result, error) {
	return run(ctx, t.tx, t.dialect, stmt)
}

// Commit commits the transaction.
func (t *Tx) Commit(context.Context) error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func run(ctx context.Context, db execer, dialect storage.Dialect, stmt storage.Statement) (storage.Result, error) {
	query, args, err := stmt.Render(dialect)
	if err != nil {
		return storage.Result{}, err
	}
	if stmt.Op == storage.OpSelect {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return storage.Result{}, err
		}
		defer func() { _ = rows.Close() }()
		out, err := ScanRows(rows)
		if err != nil {
			return storage.Result{}, err
		}
		return storage.Result{Rows: out}, nil
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return storage.Result{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Result{}, fmt.Errorf("rows affected: %w", err)
	}
	return storage.Result{RowsAffected: n}, nil
}

// ScanRows reads every row into column-keyed maps. Textual byte slices are
// returned as strings; binary ones are copied.
func ScanRows(rows *sql.Rows) ([]storage.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	var out []storage.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(storage.Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func normalize(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return append([]byte(nil), b...)
}
