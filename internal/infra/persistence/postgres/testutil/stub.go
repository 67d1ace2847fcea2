// Package testutil provides a stub database/sql driver for store tests. It
// understands the statement shapes the session renders: INSERT, UPDATE and
// DELETE with equality predicates, and SELECT with projection and ORDER BY.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
)

var stubSeq atomic.Uint64

// StubConn records statements and keeps rows per table. Writes apply
// immediately; rollback does not undo them.
type StubConn struct {
	Execs      []string
	Queries    []string
	Args       [][]any
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	RowsErr    error
	FailTables map[string]bool
	FailCommit bool
	Begins     int
	Commits    int
	Rollbacks  int
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.Begins++
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	c.Args = append(c.Args, values(args))
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE "):
		table, sets, where, err := parseUpdate(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		vals := values(args)
		var n int64
		for _, row := range c.Tables[table] {
			if !where.matches(row, vals[len(sets):]) {
				continue
			}
			for i, col := range sets {
				row[col] = vals[i]
			}
			n++
		}
		return driver.RowsAffected(n), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		table, where, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		vals := values(args)
		var (
			kept []map[string]any
			n    int64
		)
		for _, row := range c.Tables[table] {
			if where.matches(row, vals) {
				n++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(n), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.Queries = append(c.Queries, query)
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[sel.table] {
		return nil, fmt.Errorf("query fail for %s", sel.table)
	}
	vals := values(args)
	var matched []map[string]any
	for _, row := range c.Tables[sel.table] {
		if sel.where.matches(row, vals) {
			matched = append(matched, row)
		}
	}
	if len(sel.order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, col := range sel.order {
				a, b := fmt.Sprint(matched[i][col]), fmt.Sprint(matched[j][col])
				if a != b {
					return a < b
				}
			}
			return false
		})
	}
	cols := sel.cols
	if len(cols) == 1 && cols[0] == "*" {
		cols = nil
		if len(matched) > 0 {
			for col := range matched[0] {
				cols = append(cols, col)
			}
			sort.Strings(cols)
		}
	}
	rows := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		rows = append(rows, vals)
	}
	return &stubRows{cols: cols, rows: rows, err: c.RowsErr}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

// predicate is a conjunction of "col = ?" and "col IS NULL" terms. Bound
// terms consume arguments in order.
type predicate []term

type term struct {
	col    string
	isNull bool
}

func (p predicate) matches(row map[string]any, args []any) bool {
	i := 0
	for _, t := range p {
		v := row[t.col]
		if t.isNull {
			if v != nil {
				return false
			}
			continue
		}
		if i >= len(args) || fmt.Sprint(v) != fmt.Sprint(args[i]) || v == nil {
			return false
		}
		i++
	}
	return true
}

func parsePredicate(raw string) (predicate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out predicate
	for _, part := range splitFold(raw, " and ") {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		if strings.HasSuffix(lower, " is null") {
			out = append(out, term{col: strings.ToLower(strings.TrimSpace(part[:len(part)-len(" is null")])), isNull: true})
			continue
		}
		col, _, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("cannot parse predicate: %s", raw)
		}
		out = append(out, term{col: strings.ToLower(strings.TrimSpace(col))})
	}
	return out, nil
}

// splitFold splits s around case-insensitive sep.
func splitFold(s, sep string) []string {
	var out []string
	lower := strings.ToLower(s)
	for {
		i := strings.Index(lower, sep)
		if i < 0 {
			return append(out, s)
		}
		out = append(out, s[:i])
		s, lower = s[i+len(sep):], lower[i+len(sep):]
	}
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	cols := splitColumns(rest[open+1 : closeIdx])
	return table, cols, nil
}

func parseUpdate(query string) (string, []string, predicate, error) {
	rest := strings.TrimSpace(query)[len("UPDATE "):]
	parts := splitFold(rest, " set ")
	if len(parts) != 2 {
		return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(parts[0]))
	body := splitFold(parts[1], " where ")
	var sets []string
	for _, assign := range strings.Split(body[0], ",") {
		col, _, ok := strings.Cut(assign, "=")
		if !ok {
			return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
		}
		sets = append(sets, strings.ToLower(strings.TrimSpace(col)))
	}
	var where predicate
	if len(body) > 1 {
		p, err := parsePredicate(body[1])
		if err != nil {
			return "", nil, nil, err
		}
		where = p
	}
	return table, sets, where, nil
}

func parseDelete(query string) (string, predicate, error) {
	lower := strings.ToLower(query)
	prefix := "delete from "
	if !strings.HasPrefix(lower, prefix) {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	parts := splitFold(strings.TrimSpace(query[len(prefix):]), " where ")
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	where, err := parsePredicate(parts[1])
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(strings.TrimSpace(parts[0])), where, nil
}

type selectQuery struct {
	table string
	cols  []string
	where predicate
	order []string
}

func parseSelect(query string) (selectQuery, error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return selectQuery{}, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return selectQuery{}, fmt.Errorf("cannot parse select: %s", query)
	}
	out := selectQuery{cols: splitColumns(query[len(selectPrefix):fromIdx])}
	rest := strings.TrimSpace(query[fromIdx+len(fromToken):])
	if ordered := splitFold(rest, " order by "); len(ordered) == 2 {
		rest = ordered[0]
		for _, col := range strings.Split(ordered[1], ",") {
			out.order = append(out.order, strings.ToLower(strings.Fields(col)[0]))
		}
	}
	parts := splitFold(rest, " where ")
	out.table = strings.ToLower(strings.TrimSpace(parts[0]))
	if out.table == "" {
		return selectQuery{}, fmt.Errorf("cannot parse select: %s", query)
	}
	if len(parts) == 2 {
		where, err := parsePredicate(parts[1])
		if err != nil {
			return selectQuery{}, err
		}
		out.where = where
	}
	return out, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
