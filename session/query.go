package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/snapshot"
)

// Select runs q and returns the matching objects. The query strategy decides
// where results are cached:
//   - NoCache always hits the row store
//   - LocalCache keeps the object list in this session only
//   - SharedCache keeps the raw rows at domain scope for every session
//
// The refresh variants skip the lookup and replace the cached entry.
func (s *Session) Select(ctx context.Context, q querycache.Query) ([]*Object, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	ent, err := s.domain.resolver.Entity(q.Entity)
	if err != nil {
		return nil, err
	}

	switch {
	case q.Strategy.IsLocal():
		key := q.Key()
		if !q.Strategy.IsRefresh() {
			if v, ok := s.local.Get(key); ok {
				if objs, ok := v.([]*Object); ok {
					return append([]*Object(nil), objs...), nil
				}
			}
		}
		res, err := s.fetchResult(ctx, ent, q)
		if err != nil {
			return nil, err
		}
		objs, err := s.materializeResult(ctx, ent, q, res)
		if err != nil {
			return nil, err
		}
		s.local.Put(key, objs)
		return append([]*Object(nil), objs...), nil

	case q.Strategy.IsShared():
		targets, err := s.prefetchTargets(ent, q.Prefetch)
		if err != nil {
			return nil, err
		}
		fetch := func(ctx context.Context) (querycache.Result, error) {
			return s.fetchResult(ctx, ent, q)
		}
		var res querycache.Result
		if q.Strategy.IsRefresh() {
			res, err = s.domain.shared.Refresh(ctx, q.Key(), q.Tags(targets...), fetch)
		} else {
			res, err = s.domain.shared.GetOrFetch(ctx, q.Key(), q.Tags(targets...), fetch)
		}
		if err != nil {
			logging.Error(ctx, s.logger, "shared query failed", err, slog.String("query", q.String()))
			return nil, err
		}
		return s.materializeResult(ctx, ent, q, res)

	default:
		res, err := s.fetchResult(ctx, ent, q)
		if err != nil {
			return nil, err
		}
		return s.materializeResult(ctx, ent, q, res)
	}
}

func (s *Session) prefetchTargets(ent mapping.Entity, prefetch []string) ([]string, error) {
	targets := make([]string, 0, len(prefetch))
	for _, name := range prefetch {
		rel, ok := ent.Relationship(name)
		if !ok {
			return nil, newBadInput(ent.Name()+" has no relationship "+name, map[string]any{"prefetch": name})
		}
		targets = append(targets, rel.Target)
	}
	return targets, nil
}

// fetchResult runs q against the row store, including its prefetched
// relationships.
func (s *Session) fetchResult(ctx context.Context, ent mapping.Entity, q querycache.Query) (querycache.Result, error) {
	rows, err := s.domain.store.Fetch(ctx, q.Rows(ent.Table()))
	if err != nil {
		return querycache.Result{}, err
	}
	res := querycache.Result{Rows: rows}
	if len(q.Prefetch) == 0 {
		return res, nil
	}

	res.Related = make(map[string][]rowstore.Row, len(q.Prefetch))
	for _, name := range q.Prefetch {
		rel, ok := ent.Relationship(name)
		if !ok {
			return querycache.Result{}, newBadInput(ent.Name()+" has no relationship "+name, map[string]any{"prefetch": name})
		}
		target, err := s.domain.resolver.Entity(rel.Target)
		if err != nil {
			return querycache.Result{}, err
		}
		related, err := s.fetchRelated(ctx, ent, target, rel, rows)
		if err != nil {
			return querycache.Result{}, err
		}
		res.Related[name] = related
	}
	return res, nil
}

func (s *Session) fetchRelated(ctx context.Context, ent, target mapping.Entity, rel mapping.Relationship, rows []rowstore.Row) ([]rowstore.Row, error) {
	var (
		column string
		from   string
	)
	if rel.ToMany {
		keys := ent.KeyColumns()
		if len(keys) != 1 {
			return nil, newBadInput("prefetch of "+rel.Name+" requires a single key column", nil)
		}
		column, from = rel.ForeignKey, keys[0]
	} else {
		keys := target.KeyColumns()
		if len(keys) != 1 {
			return nil, newBadInput("prefetch of "+rel.Name+" requires a single key column", nil)
		}
		column, from = keys[0], rel.ForeignKey
	}

	var values []any
	seen := make(map[string]bool)
	for _, r := range rows {
		v := rowcodec.Normalize(r[from])
		if v == nil {
			continue
		}
		k := fmt.Sprintf("%T:%v", v, v)
		if seen[k] {
			continue
		}
		seen[k] = true
		values = append(values, v)
	}
	if len(values) == 0 {
		return []rowstore.Row{}, nil
	}

	q := rowstore.Query{
		Entity: target.Name(),
		Table:  target.Table(),
		Filter: []rowstore.Condition{{Column: column, Op: rowstore.In, Value: values}},
	}
	for _, k := range target.KeyColumns() {
		q.Order = append(q.Order, rowstore.Asc(k))
	}
	return s.domain.store.Fetch(ctx, q)
}

func (s *Session) materializeResult(ctx context.Context, ent mapping.Entity, q querycache.Query, res querycache.Result) ([]*Object, error) {
	objs, err := s.materializeRows(ctx, ent, res.Rows)
	if err != nil {
		return nil, err
	}
	for _, name := range q.Prefetch {
		rel, ok := ent.Relationship(name)
		if !ok {
			continue
		}
		target, err := s.domain.resolver.Entity(rel.Target)
		if err != nil {
			return nil, err
		}
		if _, err := s.materializeRows(ctx, target, res.Related[name]); err != nil {
			return nil, err
		}
	}
	return objs, nil
}

// MaterializeRows turns raw rows of entity into objects owned by s, reusing
// registered objects. Rows of objects deleted in the session are skipped.
func (s *Session) MaterializeRows(ctx context.Context, entity string, rows []rowstore.Row) ([]*Object, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	ent, err := s.domain.resolver.Entity(entity)
	if err != nil {
		return nil, err
	}
	return s.materializeRows(ctx, ent, rows)
}

func (s *Session) materializeRows(ctx context.Context, ent mapping.Entity, rows []rowstore.Row) ([]*Object, error) {
	out := make([]*Object, 0, len(rows))
	for _, row := range rows {
		id, err := rowID(ent, row)
		if err != nil {
			return nil, err
		}

		if o := s.lookupLocal(id); o != nil {
			switch {
			case o.state == Deleted:
				continue
			case (o.state == Hollow || o.state == Committed) && s.fromParents(id) == nil:
				o.base = snapshot.New(id, row)
				o.baseRefs = nil
				o.state = Committed
				o.stale = false
				s.domain.snapshots.Cache(o.base)
			case o.state == Hollow:
				if err := s.fault(ctx, o); err != nil {
					if IsObjectNotFound(err) {
						continue
					}
					return nil, err
				}
			}
			out = append(out, o)
			continue
		}

		if s.fromParents(id) != nil {
			o, err := s.materialize(ctx, id)
			if IsObjectNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, o)
			continue
		}

		snap := snapshot.New(id, row)
		s.domain.snapshots.Cache(snap)
		o := newObject(s, ent, id, Committed)
		o.base = snap
		s.objects[id] = o
		out = append(out, o)
	}
	return out, nil
}

func rowID(ent mapping.Entity, row rowstore.Row) (oid.ID, error) {
	keys := ent.KeyColumns()
	key := make(map[string]any, len(keys))
	for _, col := range keys {
		key[col] = row[col]
	}
	return oid.New(ent.Name(), key)
}
