package core

import (
	"context"
	"fmt"
	"sort"

	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

// flushPlan is the complete, ordered statement list of one flush together
// with the instances whose bookkeeping changes once it succeeds.
type flushPlan struct {
	statements []storage.Statement
	inserted   []*Entity
	updated    []*Entity
	deleted    []*Entity

	// synced owners only changed collection membership; their snapshots are
	// refreshed without a write of their own.
	synced []*Entity
}

func (p *flushPlan) empty() bool { return len(p.statements) == 0 }

// Flush writes pending inserts, real changes and removals. Outside a
// transaction the statements run in one implicit transaction; a flush with
// nothing to write touches the store not at all.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.flush(ctx)
}

func (s *Session) flush(ctx context.Context) error {
	plan, err := s.plan()
	if err != nil {
		return s.abort(ctx, err)
	}
	if plan.empty() {
		s.apply(plan)
		return nil
	}
	implicit := s.tx == nil
	if implicit {
		if err := s.Begin(ctx); err != nil {
			return err
		}
	}
	for _, stmt := range plan.statements {
		if _, err := s.execute(ctx, stmt); err != nil {
			return s.abort(ctx, err)
		}
	}
	if implicit {
		if err := s.commitTx(ctx); err != nil {
			return err
		}
	}
	s.apply(plan)
	s.mgr.logger.DebugContext(ctx, "flushed session",
		"label", s.label,
		"inserts", len(plan.inserted),
		"updates", len(plan.updated),
		"deletes", len(plan.deleted),
		"statements", len(plan.statements),
	)
	return nil
}

// abort rolls back the enclosing transaction, if any, and returns err.
func (s *Session) abort(ctx context.Context, err error) error {
	if s.tx == nil {
		return err
	}
	if rbErr := s.Rollback(ctx); rbErr != nil {
		s.mgr.logger.WarnContext(ctx, "rollback after failed flush", "label", s.label, "error", rbErr)
	}
	return err
}

// apply commits bookkeeping after every statement succeeded.
func (s *Session) apply(plan *flushPlan) {
	for _, e := range plan.inserted {
		e.state = StateManaged
		s.tracker.Take(e)
		if i := position(s.pending, e); i >= 0 {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
		}
	}
	for _, e := range plan.updated {
		s.tracker.Commit(e)
	}
	for _, e := range plan.synced {
		s.tracker.Commit(e)
	}
	for _, e := range plan.deleted {
		s.identity.Delete(e)
		s.tracker.Forget(e)
		e.state = StateDetached
		if i := position(s.removed, e); i >= 0 {
			s.removed = append(s.removed[:i:i], s.removed[i+1:]...)
		}
	}
}

func (s *Session) plan() (*flushPlan, error) {
	if err := s.cascade(); err != nil {
		return nil, err
	}
	plan := &flushPlan{}

	var inserts []*Entity
	for _, e := range s.pending {
		if e.state == StateNew {
			inserts = append(inserts, e)
		}
	}
	for _, e := range inserts {
		if err := checkRequired(e, nil); err != nil {
			return nil, err
		}
	}
	if len(inserts) > 0 {
		g := newDepGraph(s.mgr, inserts)
		order, deferred, err := g.insertOrder()
		if err != nil {
			return nil, err
		}
		nulled := make(map[int]map[string]bool)
		for _, d := range deferred {
			if nulled[d.to] == nil {
				nulled[d.to] = make(map[string]bool)
			}
			nulled[d.to][d.column] = true
		}
		for _, n := range order {
			e := g.nodes[n]
			stmt, err := insertStatement(e, nulled[n])
			if err != nil {
				return nil, err
			}
			plan.statements = append(plan.statements, stmt)
			plan.inserted = append(plan.inserted, e)
		}
		for _, n := range order {
			if len(nulled[n]) == 0 {
				continue
			}
			e := g.nodes[n]
			stmt := storage.Statement{Op: storage.OpUpdate, Table: e.desc.Table, Where: pkWhere(e)}
			for _, rel := range e.desc.Owning() {
				if nulled[n][rel.JoinColumn] {
					stmt.Columns = append(stmt.Columns, rel.JoinColumn)
					stmt.Values = append(stmt.Values, e.refs[rel.Name].ID().String())
				}
			}
			plan.statements = append(plan.statements, stmt)
		}
	}

	var dirty []ChangeSet
	for _, e := range s.identity.Entities() {
		if e.state != StateManaged || !s.tracker.Tracked(e) {
			continue
		}
		cs := s.tracker.Diff(e)
		if !cs.Writable() {
			if !cs.Empty() {
				plan.synced = append(plan.synced, e)
			}
			continue
		}
		if err := checkRequired(e, cs.References); err != nil {
			return nil, err
		}
		dirty = append(dirty, cs)
	}
	sort.SliceStable(dirty, func(i, j int) bool {
		ri, rj := s.mgr.registry.Index(dirty[i].Entity.Kind()), s.mgr.registry.Index(dirty[j].Entity.Kind())
		if ri != rj {
			return ri < rj
		}
		return dirty[i].Entity.seq < dirty[j].Entity.seq
	})
	for _, cs := range dirty {
		stmt, err := updateStatement(cs)
		if err != nil {
			return nil, err
		}
		plan.statements = append(plan.statements, stmt)
		plan.updated = append(plan.updated, cs.Entity)
	}

	var removals []*Entity
	for _, e := range s.removed {
		if e.state == StateRemoved {
			removals = append(removals, e)
		}
	}
	if len(removals) > 0 {
		g := newDepGraph(s.mgr, removals)
		for _, n := range g.deleteOrder() {
			e := g.nodes[n]
			plan.statements = append(plan.statements, storage.Statement{Op: storage.OpDelete, Table: e.desc.Table, Where: pkWhere(e)})
			plan.deleted = append(plan.deleted, e)
		}
	}
	return plan, nil
}

// cascade schedules new instances reachable from scheduled or managed ones.
func (s *Session) cascade() error {
	seen := make(map[*Entity]bool)
	var visit func(e *Entity) error
	visit = func(e *Entity) error {
		if seen[e] {
			return nil
		}
		seen[e] = true
		for _, n := range neighbours(e) {
			if n.state != StateNew {
				continue
			}
			if err := s.schedule(n); err != nil {
				return err
			}
			if err := visit(n); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range append(append([]*Entity(nil), s.pending...), s.identity.Entities()...) {
		if e.state == StateRemoved || e.state == StateDetached {
			continue
		}
		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

func neighbours(e *Entity) []*Entity {
	var out []*Entity
	for _, rel := range e.desc.Relations {
		switch rel.Kind {
		case mapping.ToOne, mapping.ToOneInverse:
			if t := e.refs[rel.Name].target; t != nil {
				out = append(out, t)
			}
		case mapping.ToMany:
			out = append(out, e.collections[rel.Name].members()...)
		}
	}
	return out
}

// checkRequired fails when a required owning reference is unset. With a
// non-nil changed list only those relations are checked.
func checkRequired(e *Entity, changed []string) error {
	for _, rel := range e.desc.Owning() {
		if !rel.Required {
			continue
		}
		if changed != nil && !contains(changed, rel.Name) {
			continue
		}
		if !e.refs[rel.Name].IsSet() {
			return fmt.Errorf("%w: %s.%s", ErrMissingReference, e, rel.Name)
		}
	}
	return nil
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func pkWhere(e *Entity) []storage.Condition {
	return []storage.Condition{{Column: e.desc.PrimaryKey, Value: e.id.String()}}
}

func insertStatement(e *Entity, nulled map[string]bool) (storage.Statement, error) {
	stmt := storage.Statement{Op: storage.OpInsert, Table: e.desc.Table}
	add := func(col string, v any) {
		stmt.Columns = append(stmt.Columns, col)
		stmt.Values = append(stmt.Values, v)
	}
	add(e.desc.PrimaryKey, e.id.String())
	for _, f := range e.desc.Fields {
		v, err := f.Type.ToStorage(e.values[f.Name])
		if err != nil {
			return stmt, fmt.Errorf("%s.%s: %w", e.desc.Kind, f.Name, err)
		}
		add(f.Column, v)
	}
	for _, em := range e.desc.Embedded {
		vals, err := embeddedColumns(e, em)
		if err != nil {
			return stmt, err
		}
		for i, f := range em.Fields {
			add(em.Column(f), vals[i])
		}
	}
	for _, rel := range e.desc.Owning() {
		id := e.refs[rel.Name].ID()
		if id.IsZero() || nulled[rel.JoinColumn] {
			add(rel.JoinColumn, nil)
			continue
		}
		add(rel.JoinColumn, id.String())
	}
	return stmt, nil
}

// updateStatement writes only changed columns; a changed embedded value
// writes all of its components.
func updateStatement(cs ChangeSet) (storage.Statement, error) {
	e := cs.Entity
	stmt := storage.Statement{Op: storage.OpUpdate, Table: e.desc.Table, Where: pkWhere(e)}
	for _, f := range e.desc.Fields {
		if !contains(cs.Fields, f.Name) {
			continue
		}
		v, err := f.Type.ToStorage(e.values[f.Name])
		if err != nil {
			return stmt, fmt.Errorf("%s.%s: %w", e.desc.Kind, f.Name, err)
		}
		stmt.Columns = append(stmt.Columns, f.Column)
		stmt.Values = append(stmt.Values, v)
	}
	for _, em := range e.desc.Embedded {
		if !contains(cs.Embedded, em.Name) {
			continue
		}
		vals, err := embeddedColumns(e, em)
		if err != nil {
			return stmt, err
		}
		for i, f := range em.Fields {
			stmt.Columns = append(stmt.Columns, em.Column(f))
			stmt.Values = append(stmt.Values, vals[i])
		}
	}
	for _, rel := range e.desc.Owning() {
		if !contains(cs.References, rel.Name) {
			continue
		}
		stmt.Columns = append(stmt.Columns, rel.JoinColumn)
		if id := e.refs[rel.Name].ID(); !id.IsZero() {
			stmt.Values = append(stmt.Values, id.String())
		} else {
			stmt.Values = append(stmt.Values, nil)
		}
	}
	return stmt, nil
}

func embeddedColumns(e *Entity, em mapping.Embedded) ([]any, error) {
	ev := e.embedded[em.Name]
	out := make([]any, len(em.Fields))
	if ev.IsNull() {
		return out, nil
	}
	for i, f := range em.Fields {
		v, err := f.Type.ToStorage(ev.values[f.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s.%s: %w", e.desc.Kind, em.Name, f.Name, err)
		}
		out[i] = v
	}
	return out, nil
}
