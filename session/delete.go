package session

import (
	"context"
	"log/slog"

	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
)

// DeleteObject schedules obj for deletion and applies the delete rules of
// its relationships. A new object is simply dropped from the session. When
// a rule fails, for example a Deny rule with related objects, nothing
// changes state.
func (s *Session) DeleteObject(ctx context.Context, obj *Object) error {
	if err := s.enter(); err != nil {
		return err
	}
	if err := s.writable(obj, "delete"); err != nil {
		return err
	}
	if obj.state == Transient {
		return newInvalidState(obj, "delete")
	}

	plan, err := s.planDelete(ctx, obj)
	if err != nil {
		return err
	}

	for _, n := range plan.nullify {
		if n.obj.state == Deleted || plan.deletes[n.obj] {
			continue
		}
		s.setRef(n.obj, n.rel, oid.ID{})
	}
	for _, o := range plan.order {
		if o.state == New {
			s.dropNew(o)
			continue
		}
		o.prior = o.state
		o.state = Deleted
		s.markDirty(o)
	}

	s.logger.Debug("deleted object",
		slog.String("object", obj.id.String()),
		slog.Int("cascaded", len(plan.order)-1),
		slog.Int("nullified", len(plan.nullify)),
	)
	return nil
}

type nullification struct {
	obj *Object
	rel mapping.Relationship
}

type deletePlan struct {
	order   []*Object
	deletes map[*Object]bool
	nullify []nullification
}

// planDelete walks the delete rules from root without changing any object.
func (s *Session) planDelete(ctx context.Context, root *Object) (deletePlan, error) {
	plan := deletePlan{deletes: map[*Object]bool{root: true}}
	g := sessionGraph{s: s}
	queue := []*Object{root}

	for len(queue) > 0 {
		o := queue[0]
		queue = queue[1:]
		plan.order = append(plan.order, o)

		if err := s.fault(ctx, o); err != nil {
			return deletePlan{}, err
		}
		for _, rel := range o.entity.Relationships() {
			effect, err := o.entity.DeleteRule(rel.Name)(ctx, g, o.id, rel)
			if err != nil {
				return deletePlan{}, err
			}
			for _, id := range effect.Delete {
				target, err := s.ownObject(ctx, id)
				if err != nil {
					return deletePlan{}, err
				}
				if target == nil || plan.deletes[target] || target.state == Deleted {
					continue
				}
				plan.deletes[target] = true
				queue = append(queue, target)
			}
			for _, n := range effect.Nullify {
				target, err := s.ownObject(ctx, n.ID)
				if err != nil {
					return deletePlan{}, err
				}
				if target == nil {
					continue
				}
				targetRel, ok := target.entity.Relationship(n.Relationship)
				if !ok || targetRel.ToMany {
					return deletePlan{}, newBadInput(target.entity.Name()+" has no to-one relationship "+n.Relationship, nil)
				}
				if err := s.fault(ctx, target); err != nil {
					return deletePlan{}, err
				}
				plan.nullify = append(plan.nullify, nullification{obj: target, rel: targetRel})
			}
		}
	}
	return plan, nil
}

// ownObject returns the object owned by s for id, materializing it from the
// parent chain or the row store when needed. Missing rows yield nil.
func (s *Session) ownObject(ctx context.Context, id oid.ID) (*Object, error) {
	if o := s.lookupLocal(id); o != nil {
		return o, nil
	}
	o, err := s.materialize(ctx, id)
	if IsObjectNotFound(err) {
		return nil, nil
	}
	return o, err
}

// dropNew removes a new object and clears the uncommitted references to it.
func (s *Session) dropNew(o *Object) {
	s.unregister(o)
	for _, other := range s.dirty {
		if other == o || s.objects[other.id] != other {
			continue
		}
		for name, target := range other.refs {
			if target != o.id {
				continue
			}
			if rel, ok := other.entity.Relationship(name); ok {
				s.setRef(other, rel, oid.ID{})
			}
		}
	}
	o.state = Transient
	o.clearDiff()
}

// sessionGraph is the view of a session handed to delete rules.
type sessionGraph struct {
	s *Session
}

func (g sessionGraph) Related(ctx context.Context, id oid.ID, rel string) ([]oid.ID, error) {
	o, err := g.s.ownObject(ctx, id)
	if err != nil || o == nil {
		return nil, err
	}
	r, ok := o.entity.Relationship(rel)
	if !ok {
		return nil, newBadInput(o.entity.Name()+" has no relationship "+rel, nil)
	}
	if r.ToMany {
		return g.s.relatedMany(ctx, o, rel)
	}
	if err := g.s.fault(ctx, o); err != nil {
		return nil, err
	}
	if target := g.s.currentRef(o, r); !target.IsZero() {
		return []oid.ID{target}, nil
	}
	return nil, nil
}

var _ mapping.Graph = sessionGraph{}
