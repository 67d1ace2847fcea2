// Package memory provides an in-memory implementation of the statement store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"entitygraph/pkg/storage"
)

// Compile-time contract assertions ensuring memory.Store adheres to the storage interfaces.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*transaction)(nil)
)

var (
	// ErrDuplicateKey is returned when an INSERT repeats a primary key.
	ErrDuplicateKey = errors.New("duplicate primary key")
	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = errors.New("transaction already finished")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Snapshot is a point-in-time copy of every table, keyed by table name.
type Snapshot map[string][]storage.Row

type table struct {
	rows []storage.Row
}

type memoryState map[string]*table

func (s memoryState) clone() memoryState {
	out := make(memoryState, len(s))
	for name, t := range s {
		rows := make([]storage.Row, len(t.rows))
		for i, r := range t.rows {
			rows[i] = cloneRow(r)
		}
		out[name] = &table{rows: rows}
	}
	return out
}

func (s memoryState) table(name string) *table {
	t, ok := s[name]
	if !ok {
		t = &table{}
		s[name] = t
	}
	return t
}

// Store keeps tables as ordered row lists. The first column of every INSERT
// is treated as the primary key. Transactions work on a private copy and
// replay their writes onto the shared state at commit.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	closed bool
	nowFn  func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state: make(memoryState),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current tables.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.state))
	for name, t := range s.state.clone() {
		out[name] = t.rows
	}
	return out
}

// ImportState replaces the tables with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := make(memoryState, len(snapshot))
	for name, rows := range snapshot {
		cp := make([]storage.Row, len(rows))
		for i, r := range rows {
			cp[i] = cloneRow(r)
		}
		state[name] = &table{rows: cp}
	}
	s.state = state
}

// Execute runs stmt in autocommit mode.
func (s *Store) Execute(_ context.Context, stmt storage.Statement) (storage.Result, error) {
	if err := stmt.Validate(); err != nil {
		return storage.Result{}, err
	}
	if stmt.Op == storage.OpSelect {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return storage.Result{}, ErrClosed
		}
		return apply(s.state, stmt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.Result{}, ErrClosed
	}
	return apply(s.state, stmt)
}

// Begin starts a transaction over a copy of the current tables.
func (s *Store) Begin(_ context.Context) (storage.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &transaction{store: s, state: s.state.clone(), started: s.nowFn()}, nil
}

// Close rejects further use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type transaction struct {
	store   *Store
	state   memoryState
	writes  []storage.Statement
	started time.Time
	done    bool
}

func (tx *transaction) Execute(_ context.Context, stmt storage.Statement) (storage.Result, error) {
	if tx.done {
		return storage.Result{}, ErrTxDone
	}
	if err := stmt.Validate(); err != nil {
		return storage.Result{}, err
	}
	res, err := apply(tx.state, stmt)
	if err != nil {
		return res, err
	}
	if stmt.Op != storage.OpSelect {
		tx.writes = append(tx.writes, stmt)
	}
	return res, nil
}

// Commit replays the transaction's writes onto the shared state. If any
// write no longer applies, nothing is committed.
func (tx *transaction) Commit(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	if len(tx.writes) == 0 {
		return nil
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next := s.state.clone()
	for _, stmt := range tx.writes {
		if _, err := apply(next, stmt); err != nil {
			return fmt.Errorf("memory: commit conflict: %w", err)
		}
	}
	s.state = next
	return nil
}

func (tx *transaction) Rollback(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.writes = nil
	return nil
}

func apply(state memoryState, stmt storage.Statement) (storage.Result, error) {
	switch stmt.Op {
	case storage.OpSelect:
		return selectRows(state, stmt), nil
	case storage.OpInsert:
		t := state.table(stmt.Table)
		pk := stmt.Columns[0]
		for _, r := range t.rows {
			if valuesEqual(r[pk], stmt.Values[0]) {
				return storage.Result{}, fmt.Errorf("%w: %s.%s=%v", ErrDuplicateKey, stmt.Table, pk, stmt.Values[0])
			}
		}
		row := make(storage.Row, len(stmt.Columns))
		for i, col := range stmt.Columns {
			row[col] = stmt.Values[i]
		}
		t.rows = append(t.rows, row)
		return storage.Result{RowsAffected: 1}, nil
	case storage.OpUpdate:
		t := state.table(stmt.Table)
		var n int64
		for _, r := range t.rows {
			if !matches(r, stmt.Where) {
				continue
			}
			for i, col := range stmt.Columns {
				r[col] = stmt.Values[i]
			}
			n++
		}
		return storage.Result{RowsAffected: n}, nil
	case storage.OpDelete:
		t := state.table(stmt.Table)
		kept := t.rows[:0:0]
		var n int64
		for _, r := range t.rows {
			if matches(r, stmt.Where) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		t.rows = kept
		return storage.Result{RowsAffected: n}, nil
	}
	return storage.Result{}, fmt.Errorf("%w: %s", storage.ErrMalformedStatement, stmt.Op)
}

func selectRows(state memoryState, stmt storage.Statement) storage.Result {
	t, ok := state[stmt.Table]
	if !ok {
		return storage.Result{}
	}
	var out []storage.Row
	for _, r := range t.rows {
		if !matches(r, stmt.Where) {
			continue
		}
		if len(stmt.Columns) == 0 {
			out = append(out, cloneRow(r))
			continue
		}
		// Columns the row was never written with stay absent.
		proj := make(storage.Row, len(stmt.Columns))
		for _, col := range stmt.Columns {
			if v, ok := r[col]; ok {
				proj[col] = v
			}
		}
		out = append(out, proj)
	}
	if len(stmt.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range stmt.OrderBy {
				c := compareValues(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	return storage.Result{Rows: out}
}

func matches(r storage.Row, where []storage.Condition) bool {
	for _, c := range where {
		v := r[c.Column]
		if c.Value == nil {
			if v != nil {
				return false
			}
			continue
		}
		if !valuesEqual(v, c.Value) {
			return false
		}
	}
	return true
}

func cloneRow(r storage.Row) storage.Row {
	out := make(storage.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func valuesEqual(a, b any) bool {
	return compareValues(a, b) == 0 && (a == nil) == (b == nil)
}

// compareValues orders nil first, then times, numbers and text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(text(a), text(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
