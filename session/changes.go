package session

import (
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/rowstore"
)

// Change is a read only view of the pending work for one object.
type Change struct {
	ID     oid.ID
	Entity string
	Kind   rowstore.OperationKind

	// Values holds the changed columns; all set columns for inserts.
	Values map[string]any

	// Relationships holds changed to-one targets. A zero ID clears one.
	Relationships map[string]oid.ID
}

// Changes returns the pending changes in the order the objects first
// changed.
func (s *Session) Changes() []Change {
	s.drain()
	pending := s.pendingObjects()
	out := make([]Change, 0, len(pending))
	for _, o := range pending {
		c := Change{ID: o.id, Entity: o.entity.Name()}
		switch o.state {
		case New:
			c.Kind = rowstore.Insert
		case Modified:
			c.Kind = rowstore.Update
		case Deleted:
			c.Kind = rowstore.Delete
		}
		if c.Kind != rowstore.Delete {
			c.Values = rowcodec.Clone(o.changes)
			if len(o.refs) > 0 {
				c.Relationships = make(map[string]oid.ID, len(o.refs))
				for name, target := range o.refs {
					c.Relationships[name] = target
				}
			}
		}
		out = append(out, c)
	}
	return out
}
