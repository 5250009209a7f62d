// Package faultlist provides a paginated, lazily materialized query result.
//
// A List knows its size up front from a count query. Rows are fetched one
// page at a time and turned into session objects only when an index inside
// the page is read. Resolving a page never touches any other page, so
// positions and object identities stay stable while the list fills in.
package faultlist

import (
	"context"

	"github.com/goliatone/go-object-graph/cache"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/session"
)

var keys = cache.NewDefaultKeySerializer()

type page struct {
	// rows are fetched but not yet materialized.
	rows []rowstore.Row
	// ids are known identities, kept across serialization.
	ids     []oid.ID
	objects []*session.Object
}

func (p *page) resolved() bool { return p.objects != nil }

// List is an ordered query result partitioned into fixed size pages. Like
// the session it belongs to, a List has a single owner.
type List struct {
	sess     *session.Session
	entity   mapping.Entity
	query    querycache.Query
	base     rowstore.Query
	size     int
	pageSize int
	pages    []page
}

// New counts the rows matched by q and fetches its first page without
// materializing it.
func New(ctx context.Context, sess *session.Session, q querycache.Query, pageSize int) (*List, error) {
	if pageSize <= 0 {
		return nil, newInvalidPageSize(pageSize)
	}
	l := &List{query: q, pageSize: pageSize}
	if err := l.bind(sess); err != nil {
		return nil, err
	}

	count, err := sess.Domain().RowStore().Count(ctx, l.base.Unpaged())
	if err != nil {
		return nil, err
	}
	l.size = max(count-q.Offset, 0)
	if q.Limit > 0 {
		l.size = min(l.size, q.Limit)
	}
	l.pages = make([]page, l.pageCount())

	if l.size > 0 {
		rows, err := l.fetch(ctx, 0)
		if err != nil {
			return nil, err
		}
		l.pages[0].rows = rows
	}
	return l, nil
}

// Select returns the fault list for q. With a local cache strategy the list
// is kept in the session's local cache, so repeated identical calls return
// the same *List.
func Select(ctx context.Context, sess *session.Session, q querycache.Query, pageSize int) (*List, error) {
	if !q.Strategy.IsLocal() {
		return New(ctx, sess, q, pageSize)
	}

	key := keys.SerializeKey(q.Entity, "faultlist", q.Key(), pageSize)
	if q.Strategy.IsRefresh() {
		l, err := New(ctx, sess, q, pageSize)
		if err != nil {
			return nil, err
		}
		sess.LocalCache().Put(key, l)
		return l, nil
	}

	v, err := sess.LocalCache().GetOrCreate(key, func() (any, error) {
		return New(ctx, sess, q, pageSize)
	})
	if err != nil {
		return nil, err
	}
	return v.(*List), nil
}

func (l *List) bind(sess *session.Session) error {
	ent, err := sess.Entity(l.query.Entity)
	if err != nil {
		return err
	}
	base := l.query.Rows(ent.Table())
	base.Limit, base.Offset = 0, 0
	order := make([]rowstore.Ordering, 0, len(ent.KeyColumns()))
	for _, k := range ent.KeyColumns() {
		order = append(order, rowstore.Asc(k))
	}

	l.sess = sess
	l.entity = ent
	l.base = base.OrderedBy(order...)
	return nil
}

// Size returns the number of elements in the list.
func (l *List) Size() int { return l.size }

// PageSize returns the number of elements per page.
func (l *List) PageSize() int { return l.pageSize }

// Pages returns the number of pages.
func (l *List) Pages() int { return len(l.pages) }

// Query returns the query the list was built from.
func (l *List) Query() querycache.Query { return l.query }

// Session returns the owning session, nil for a detached list.
func (l *List) Session() *session.Session { return l.sess }

// Resolved reports whether page p holds live objects.
func (l *List) Resolved(p int) bool {
	if p < 0 || p >= len(l.pages) {
		return false
	}
	return l.pages[p].resolved()
}

// IDs returns the known identities of page p, nil when the page has never
// been resolved.
func (l *List) IDs(p int) []oid.ID {
	if p < 0 || p >= len(l.pages) {
		return nil
	}
	pg := &l.pages[p]
	if pg.resolved() {
		out := make([]oid.ID, len(pg.objects))
		for i, o := range pg.objects {
			out[i] = o.ID()
		}
		return out
	}
	return append([]oid.ID(nil), pg.ids...)
}

// Get returns the object at index i, resolving its page if needed.
func (l *List) Get(ctx context.Context, i int) (*session.Object, error) {
	if i < 0 || i >= l.size {
		return nil, newIndexOutOfRange(i, l.size)
	}
	p := i / l.pageSize
	if err := l.resolve(ctx, p); err != nil {
		return nil, err
	}
	objs := l.pages[p].objects
	if n := i % l.pageSize; n < len(objs) {
		return objs[n], nil
	}
	// the store returned fewer rows than counted
	return nil, newIndexOutOfRange(i, p*l.pageSize+len(objs))
}

// Objects resolves every page and returns all objects in order.
func (l *List) Objects(ctx context.Context) ([]*session.Object, error) {
	out := make([]*session.Object, 0, l.size)
	for p := range l.pages {
		if err := l.resolve(ctx, p); err != nil {
			return nil, err
		}
		out = append(out, l.pages[p].objects...)
	}
	return out, nil
}

func (l *List) pageCount() int {
	return (l.size + l.pageSize - 1) / l.pageSize
}

func (l *List) fetch(ctx context.Context, p int) ([]rowstore.Row, error) {
	start := p * l.pageSize
	n := min(l.pageSize, l.size-start)
	return l.sess.Domain().RowStore().Fetch(ctx, l.base.Page(l.query.Offset+start, n))
}

func (l *List) resolve(ctx context.Context, p int) error {
	if l.sess == nil {
		return newDetached()
	}
	pg := &l.pages[p]
	if pg.resolved() {
		return nil
	}

	if pg.rows == nil && pg.ids != nil {
		objs := make([]*session.Object, len(pg.ids))
		for i, id := range pg.ids {
			o, err := l.sess.Get(ctx, id)
			if err != nil {
				return err
			}
			objs[i] = o
		}
		pg.objects = objs
		return nil
	}

	rows := pg.rows
	if rows == nil {
		var err error
		if rows, err = l.fetch(ctx, p); err != nil {
			return err
		}
	}

	objs := make([]*session.Object, 0, len(rows))
	for _, row := range rows {
		o, err := l.materialize(ctx, row)
		if err != nil {
			return err
		}
		objs = append(objs, o)
	}
	pg.objects = objs
	pg.rows = nil
	pg.ids = nil
	return nil
}

// materialize turns one row into its session object. Objects deleted in the
// session keep their position.
func (l *List) materialize(ctx context.Context, row rowstore.Row) (*session.Object, error) {
	objs, err := l.sess.MaterializeRows(ctx, l.entity.Name(), []rowstore.Row{row})
	if err != nil {
		return nil, err
	}
	if len(objs) == 1 {
		return objs[0], nil
	}

	key := make(map[string]any, len(l.entity.KeyColumns()))
	for _, col := range l.entity.KeyColumns() {
		key[col] = row[col]
	}
	id, err := oid.New(l.entity.Name(), key)
	if err != nil {
		return nil, err
	}
	if o := l.sess.LocalObject(id); o != nil {
		return o, nil
	}
	return l.sess.Get(ctx, id)
}
