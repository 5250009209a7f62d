package session

import (
	"context"
	"fmt"
	"log/slog"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/ordering"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/snapshot"
)

// CommitChanges writes every pending change. Root sessions write to the row
// store; child sessions commit into their parent and then ask the parent to
// commit.
//
// Validation and ordering failures abort before anything is written. A row
// store failure stops the sequence: operations executed so far are
// finalized, the rest stay pending, and the returned RowStoreError names
// the failing object.
func (s *Session) CommitChanges(ctx context.Context) error {
	if err := s.enter(); err != nil {
		return err
	}
	if s.committing {
		return newCommitInProgress()
	}
	s.committing = true
	defer func() { s.committing = false }()

	if s.parent != nil {
		if err := s.commitToParent(ctx); err != nil {
			return err
		}
		return s.parent.CommitChanges(ctx)
	}
	return s.commitToStore(ctx)
}

// CommitChangesToParent merges the changes of a child session into its
// parent without writing to the row store. Temporary ids are kept, so the
// parent inserts the objects when it commits.
func (s *Session) CommitChangesToParent(ctx context.Context) error {
	if err := s.enter(); err != nil {
		return err
	}
	if s.parent == nil {
		return newBadInput("root sessions have no parent to commit to", nil)
	}
	if s.committing {
		return newCommitInProgress()
	}
	s.committing = true
	defer func() { s.committing = false }()

	return s.commitToParent(ctx)
}

// plan validates the pending objects and orders their operations.
func (s *Session) plan(ctx context.Context) (ordering.Plan, map[oid.ID]*Object, error) {
	pending := s.pendingObjects()
	if len(pending) == 0 {
		return ordering.Plan{}, nil, nil
	}

	if s.domain.validate {
		if failures := s.validate(ctx, pending); len(failures) > 0 {
			return ordering.Plan{}, nil, newValidationFailed(failures)
		}
	}

	ops := make([]ordering.Operation, 0, len(pending))
	byID := make(map[oid.ID]*Object, len(pending))
	for _, o := range pending {
		ops = append(ops, s.operation(o))
		byID[o.id] = o
	}

	plan, err := s.domain.sorter.Sort(ops, s.domain.caps)
	if err != nil {
		return ordering.Plan{}, nil, err
	}
	if err := ordering.Validate(ops, plan); err != nil {
		return ordering.Plan{}, nil, err
	}
	return plan, byID, nil
}

func (s *Session) operation(o *Object) ordering.Operation {
	op := ordering.Operation{ID: o.id, Entity: o.entity.Name()}
	switch o.state {
	case New:
		op.Kind = rowstore.Insert
		for _, rel := range o.entity.Relationships() {
			if rel.ToMany {
				continue
			}
			if target := s.currentRef(o, rel); !target.IsZero() {
				op.Refs = append(op.Refs, target)
			}
		}
	case Modified:
		op.Kind = rowstore.Update
		for _, rel := range o.entity.Relationships() {
			target, changed := o.refs[rel.Name]
			if rel.ToMany || !changed {
				continue
			}
			if !target.IsZero() {
				op.Refs = append(op.Refs, target)
			}
			if prev := s.baseRef(o, rel); !prev.IsZero() {
				op.Releases = append(op.Releases, prev)
			}
		}
	case Deleted:
		op.Kind = rowstore.Delete
		for _, rel := range o.entity.Relationships() {
			if rel.ToMany {
				continue
			}
			if target := s.baseRef(o, rel); !target.IsZero() {
				op.Refs = append(op.Refs, target)
			}
		}
	}
	return op
}

// validate checks every new and modified object.
func (s *Session) validate(ctx context.Context, pending []*Object) []Failure {
	var failures []Failure
	for _, o := range pending {
		if o.state != New && o.state != Modified {
			continue
		}
		if violations := s.violations(ctx, o); len(violations) > 0 {
			failures = append(failures, Failure{ID: o.id, Violations: violations})
		}
	}
	return failures
}

func (s *Session) violations(ctx context.Context, o *Object) []mapping.Violation {
	row := o.Values()

	// columns the commit fills in are not checked by field rules
	skip := make(map[string]bool)
	if o.state == New && o.entity.KeyStrategy() != mapping.KeyPreAssigned {
		for _, col := range o.entity.KeyColumns() {
			skip[col] = true
		}
	}

	var out []mapping.Violation
	for _, rel := range o.entity.Relationships() {
		if rel.ToMany {
			continue
		}
		target := s.currentRef(o, rel)
		if target.IsTemporary() {
			skip[rel.ForeignKey] = true
		}
		if rel.Mandatory && target.IsZero() {
			out = append(out, mapping.Violation{Field: rel.Name, Message: "is required"})
		}
	}

	for _, v := range o.entity.Validate(row) {
		if !skip[v.Field] {
			out = append(out, v)
		}
	}

	if o.state == New && o.entity.KeyStrategy() == mapping.KeyPreAssigned {
		for _, col := range o.entity.KeyColumns() {
			if row[col] == nil {
				out = append(out, mapping.Violation{Field: col, Message: "key value is required"})
			}
		}
	}

	for _, validator := range s.domain.validators {
		out = append(out, validator(ctx, o)...)
	}
	return out
}

// executed is one finished write waiting to be finalized.
type executed struct {
	obj  *Object
	kind rowstore.OperationKind
	base *snapshot.Snapshot
}

// fixup is a foreign key written as NULL because its target had no key yet.
type fixup struct {
	obj    *Object
	rel    mapping.Relationship
	target oid.ID
}

func (s *Session) commitToStore(ctx context.Context) error {
	plan, byID, err := s.plan(ctx)
	if err != nil {
		return err
	}
	if len(plan.Ops) == 0 {
		s.resetDirty()
		return nil
	}

	s.logger.Debug("commit", slog.Int("operations", len(plan.Ops)), slog.Bool("deferred", plan.Deferred))

	var (
		done   []executed
		fixups []fixup
	)
	for _, op := range plan.Ops {
		o := byID[op.ID]
		res, err := s.execute(ctx, o, op.Kind, plan.Deferred, &fixups)
		if err != nil {
			s.finalize(ctx, done)
			s.keepFixups(fixups)
			logging.Error(ctx, s.logger, "commit operation failed", err,
				slog.String("object", o.id.String()),
				slog.String("operation", op.Kind.String()),
			)
			return err
		}
		done = append(done, res)
	}

	for i, f := range fixups {
		if err := s.applyFixup(ctx, f, done); err != nil {
			s.finalize(ctx, done)
			s.keepFixups(fixups[i:])
			logging.Error(ctx, s.logger, "commit fixup failed", err,
				slog.String("object", f.obj.id.String()),
				slog.String("relationship", f.rel.Name),
			)
			return err
		}
	}

	s.finalize(ctx, done)
	return nil
}

// execute builds the row store operation for o and runs it.
func (s *Session) execute(ctx context.Context, o *Object, kind rowstore.OperationKind, deferred bool, fixups *[]fixup) (executed, error) {
	ent := o.entity
	op := rowstore.Operation{Kind: kind, Entity: ent.Name(), Table: ent.Table()}

	if kind == rowstore.Delete {
		op.Key = o.id.Values()
		res, err := s.domain.store.Execute(ctx, op)
		if err != nil {
			return executed{}, newRowStoreError(err, o.id, kind)
		}
		if res.RowsAffected == 0 {
			return executed{}, newObjectNotFound(o.id)
		}
		return executed{obj: o, kind: kind}, nil
	}

	values := rowcodec.Clone(o.changes)
	if values == nil {
		values = make(map[string]any)
	}
	for _, rel := range ent.Relationships() {
		if rel.ToMany {
			continue
		}
		target, changed := o.refs[rel.Name]
		if kind == rowstore.Insert {
			target, changed = s.currentRef(o, rel), true
			if target.IsZero() {
				continue
			}
		}
		if !changed {
			continue
		}
		target = s.resolve(target)
		if target.IsTemporary() {
			if !deferred {
				return executed{}, unresolvedReference(o, rel, target)
			}
			*fixups = append(*fixups, fixup{obj: o, rel: rel, target: target})
			values[rel.ForeignKey] = nil
			continue
		}
		v, _ := keyValue(target)
		values[rel.ForeignKey] = v
	}

	if kind == rowstore.Update {
		op.Key = o.id.Values()
		op.Values = values
		res, err := s.domain.store.Execute(ctx, op)
		if err != nil {
			return executed{}, newRowStoreError(err, o.id, kind)
		}
		if res.RowsAffected == 0 {
			return executed{}, newObjectNotFound(o.id)
		}
		return executed{obj: o, kind: kind, base: o.base.With(values)}, nil
	}

	keys := ent.KeyColumns()
	switch ent.KeyStrategy() {
	case mapping.KeyGenerated:
		op.GeneratedKey = keys[0]
		if values[keys[0]] == nil {
			delete(values, keys[0])
		}
	case mapping.KeyUUID:
		if values[keys[0]] == nil {
			values[keys[0]] = uuid.NewString()
		}
	}
	if !o.id.IsTemporary() {
		for k, v := range o.id.Values() {
			if values[k] == nil {
				values[k] = v
			}
		}
	}
	op.Values = values

	res, err := s.domain.store.Execute(ctx, op)
	if err != nil {
		return executed{}, newRowStoreError(err, o.id, kind)
	}

	row := rowcodec.Clone(values)
	for k, v := range res.GeneratedKeys {
		row[k] = rowcodec.Normalize(v)
	}
	key := make(map[string]any, len(keys))
	for _, col := range keys {
		key[col] = row[col]
	}
	id, err := oid.New(ent.Name(), key)
	if err != nil {
		return executed{}, newRowStoreError(err, o.id, kind)
	}
	if id != o.id {
		from := o.id
		s.rename(from, id)
		s.propagateRename(from, id)
	}
	return executed{obj: o, kind: kind, base: snapshot.New(id, row)}, nil
}

func (s *Session) applyFixup(ctx context.Context, f fixup, done []executed) error {
	target := s.resolve(s.currentRef(f.obj, f.rel))
	v, ok := keyValue(target)
	if !ok {
		return unresolvedReference(f.obj, f.rel, target)
	}
	op := rowstore.Operation{
		Kind:   rowstore.Update,
		Entity: f.obj.entity.Name(),
		Table:  f.obj.entity.Table(),
		Key:    f.obj.id.Values(),
		Values: map[string]any{f.rel.ForeignKey: v},
	}
	if _, err := s.domain.store.Execute(ctx, op); err != nil {
		return newRowStoreError(err, f.obj.id, rowstore.Update)
	}
	for i := range done {
		if done[i].obj == f.obj && done[i].base != nil {
			done[i].base = done[i].base.With(op.Values)
		}
	}
	return nil
}

// keepFixups leaves the references of unapplied fixups pending. The rows
// hold NULL for them, so the owners stay Modified until a later commit
// writes the foreign keys.
func (s *Session) keepFixups(pending []fixup) {
	for _, f := range pending {
		o := f.obj
		if s.objects[o.id] != o {
			continue
		}
		o.refs[f.rel.Name] = s.resolve(f.target)
		if o.state == Committed {
			o.state = Modified
		}
		s.markDirty(o)
	}
}

func unresolvedReference(o *Object, rel mapping.Relationship, target oid.ID) error {
	return goerrors.New(fmt.Sprintf("%s references %s through %s before it was inserted", o.id, target, rel.Name),
		goerrors.CategoryInternal).
		WithTextCode(ordering.TextCodeInvalidPlan).
		WithMetadata(map[string]any{
			"object":       o.id.String(),
			"relationship": rel.Name,
			"target":       target.String(),
		})
}

// finalize moves executed objects to their committed state and publishes
// the new snapshots.
func (s *Session) finalize(ctx context.Context, done []executed) {
	if len(done) == 0 {
		s.resetDirty()
		return
	}

	var (
		puts     []*snapshot.Snapshot
		deletes  []oid.ID
		entities []string
		seen     = make(map[string]bool)
	)
	for _, d := range done {
		o := d.obj
		if name := o.entity.Name(); !seen[name] {
			seen[name] = true
			entities = append(entities, name)
		}
		switch d.kind {
		case rowstore.Delete:
			s.unregister(o)
			o.state = Transient
			o.base = nil
			o.baseRefs = nil
			o.clearDiff()
			deletes = append(deletes, o.id)
		default:
			o.base = d.base
			o.baseRefs = nil
			o.clearDiff()
			o.state = Committed
			o.stale = false
			puts = append(puts, d.base)
		}
	}
	s.resetDirty()

	s.domain.snapshots.Update(s.listener, puts, deletes)
	if err := s.domain.shared.Invalidate(ctx, entities...); err != nil {
		logging.Error(ctx, s.logger, "invalidate shared query cache", err)
	}
}

func (s *Session) commitToParent(ctx context.Context) error {
	plan, byID, err := s.plan(ctx)
	if err != nil {
		return err
	}
	if len(plan.Ops) == 0 {
		s.resetDirty()
		return nil
	}

	p := s.parent
	if p.closed {
		return newSessionClosed()
	}
	p.drain()

	// resolve every parent object before touching any of them
	targets := make([]*Object, len(plan.Ops))
	for i, op := range plan.Ops {
		if op.Kind == rowstore.Insert {
			if p.lookupLocal(op.ID) != nil {
				return newDuplicateIdentity(op.ID)
			}
			continue
		}
		po, err := p.Materialize(ctx, op.ID)
		if err != nil {
			return err
		}
		if err := p.fault(ctx, po); err != nil {
			return err
		}
		if po.state == Deleted {
			return newInvalidState(po, op.Kind.String())
		}
		targets[i] = po
	}

	for i, op := range plan.Ops {
		o := byID[op.ID]
		switch op.Kind {
		case rowstore.Insert:
			po := newObject(p, o.entity, o.id, New)
			po.changes = rowcodec.Clone(o.changes)
			if po.changes == nil {
				po.changes = make(map[string]any)
			}
			for _, rel := range o.entity.Relationships() {
				if rel.ToMany {
					continue
				}
				if target := s.currentRef(o, rel); !target.IsZero() {
					po.refs[rel.Name] = target
				}
			}
			p.objects[po.id] = po
			p.markDirty(po)
		case rowstore.Update:
			po := targets[i]
			for col, v := range o.changes {
				p.setValue(po, col, v)
			}
			for name, target := range o.refs {
				if rel, ok := o.entity.Relationship(name); ok {
					p.setRef(po, rel, target)
				}
			}
		case rowstore.Delete:
			po := targets[i]
			if po.state == New {
				p.dropNew(po)
				continue
			}
			po.prior = po.state
			po.state = Deleted
			p.markDirty(po)
		}
	}

	for _, op := range plan.Ops {
		o := byID[op.ID]
		if op.Kind == rowstore.Delete {
			s.unregister(o)
			o.state = Transient
			o.base = nil
			o.baseRefs = nil
			o.clearDiff()
			continue
		}
		refs := pendingRefs(o)
		o.base = snapshot.New(o.id, o.Values())
		o.baseRefs = refs
		o.clearDiff()
		o.state = Committed
		o.stale = false
	}
	s.resetDirty()

	s.logger.Debug("committed to parent", slog.Int("operations", len(plan.Ops)))
	return nil
}

// HasChanges reports whether the next commit has work to do.
func (s *Session) HasChanges() bool {
	s.drain()
	return len(s.pendingObjects()) > 0
}

// RollbackChanges discards every pending change: modified objects return to
// their committed values, new objects are unregistered and deleted objects
// return to the state they had before the delete.
func (s *Session) RollbackChanges() {
	s.drain()
	for _, o := range s.dirty {
		if s.objects[o.id] != o {
			continue
		}
		switch o.state {
		case New:
			s.unregister(o)
			o.state = Transient
			o.clearDiff()
		case Modified:
			o.clearDiff()
			o.state = Committed
			o.stale = false
		case Deleted:
			o.clearDiff()
			o.state = o.prior
			if o.state == Modified {
				o.state = Committed
			}
		}
	}
	s.dirty = nil
	s.dirtySet = make(map[*Object]struct{})
	s.logger.Debug("rolled back changes")
}
