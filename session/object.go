package session

import (
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/snapshot"
)

// State is the lifecycle state of an object within its session.
type State int

const (
	// Transient objects are not registered with any session.
	Transient State = iota
	// New objects are registered and will be inserted on commit.
	New
	// Committed objects match their last known persisted row.
	Committed
	// Modified objects carry changes to be written on commit.
	Modified
	// Deleted objects will be deleted on commit.
	Deleted
	// Hollow objects have an identity but no loaded row yet.
	Hollow
)

func (s State) String() string {
	switch s {
	case Transient:
		return "transient"
	case New:
		return "new"
	case Committed:
		return "committed"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Hollow:
		return "hollow"
	default:
		return "unknown"
	}
}

// Object is one domain object held by a session. Field values are read and
// written through the owning Session; the object itself only exposes what is
// already loaded.
type Object struct {
	id      oid.ID
	entity  mapping.Entity
	session *Session
	state   State

	// prior is the state a Deleted object returns to on rollback.
	prior State

	// base is the last committed row. Shared with the snapshot store and
	// never written to.
	base *snapshot.Snapshot

	// changes holds column values that differ from base.
	changes map[string]any

	// refs holds to-one relationship targets that differ from base. A zero
	// ID clears the relationship.
	refs map[string]oid.ID

	// baseRefs holds base relationship targets that have no key yet and so
	// cannot be read from a foreign key column of base.
	baseRefs map[string]oid.ID

	// stale marks a Modified object whose base was replaced by another
	// session; the next access reloads base.
	stale bool
}

func newObject(s *Session, entity mapping.Entity, id oid.ID, state State) *Object {
	return &Object{
		id:      id,
		entity:  entity,
		session: s,
		state:   state,
		changes: make(map[string]any),
		refs:    make(map[string]oid.ID),
	}
}

// ID returns the object id. It changes from a temporary to a permanent id
// when the object's insert is committed.
func (o *Object) ID() oid.ID { return o.id }

// Entity returns the entity name.
func (o *Object) Entity() string { return o.entity.Name() }

// State returns the lifecycle state.
func (o *Object) State() State { return o.state }

// Session returns the owning session.
func (o *Object) Session() *Session { return o.session }

// IsStale reports whether another session replaced the row this object's
// pending changes are based on.
func (o *Object) IsStale() bool { return o.stale }

// Get returns the current value of column without loading anything.
// Foreign key columns of to-one relationships read the target's key, or
// nil while the target is not yet committed.
func (o *Object) Get(column string) (any, bool) {
	if rel, ok := o.toOneByColumn(column); ok {
		if target, changed := o.refs[rel.Name]; changed {
			v, _ := keyValue(target)
			return v, true
		}
		if target, pending := o.baseRefs[rel.Name]; pending {
			v, _ := keyValue(target)
			return v, true
		}
	}
	if v, ok := o.changes[column]; ok {
		return v, true
	}
	if o.base != nil {
		return o.base.Get(column)
	}
	return nil, false
}

// Values returns the current row of the object without loading anything.
func (o *Object) Values() map[string]any {
	out := make(map[string]any)
	if o.base != nil {
		for k, v := range o.base.Values() {
			out[k] = v
		}
	}
	for k, v := range rowcodec.Clone(o.changes) {
		out[k] = v
	}
	for _, refs := range []map[string]oid.ID{o.baseRefs, o.refs} {
		for name, target := range refs {
			if rel, ok := o.entity.Relationship(name); ok {
				v, _ := keyValue(target)
				out[rel.ForeignKey] = v
			}
		}
	}
	if !o.id.IsTemporary() {
		for k, v := range o.id.Values() {
			if out[k] == nil {
				out[k] = v
			}
		}
	}
	return out
}

func (o *Object) String() string {
	return o.id.String() + "(" + o.state.String() + ")"
}

func (o *Object) hasDiff() bool {
	return len(o.changes) > 0 || len(o.refs) > 0
}

func (o *Object) clearDiff() {
	o.changes = make(map[string]any)
	o.refs = make(map[string]oid.ID)
}

// pending reports whether the object has work for the next commit.
func (o *Object) pending() bool {
	return o.state == New || o.state == Modified || o.state == Deleted
}

// reconcile moves between Committed and Modified after a diff change.
func (o *Object) reconcile() {
	switch o.state {
	case Committed:
		if o.hasDiff() {
			o.state = Modified
		}
	case Modified:
		if !o.hasDiff() {
			o.state = Committed
		}
	}
}

func (o *Object) toOneByColumn(column string) (mapping.Relationship, bool) {
	for _, rel := range o.entity.Relationships() {
		if !rel.ToMany && rel.ForeignKey == column {
			return rel, true
		}
	}
	return mapping.Relationship{}, false
}

func (o *Object) baseValue(column string) any {
	if o.base == nil {
		return nil
	}
	v, _ := o.base.Get(column)
	return v
}

// keyValue returns the single key value of a permanent id.
func keyValue(id oid.ID) (any, bool) {
	if id.IsZero() || id.IsTemporary() {
		return nil, false
	}
	values := id.Values()
	if len(values) != 1 {
		return nil, false
	}
	for _, v := range values {
		return v, true
	}
	return nil, false
}
