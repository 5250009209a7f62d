package faultlist

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/session"
)

type wireList struct {
	Query    querycache.Query `msgpack:"query"`
	Size     int              `msgpack:"size"`
	PageSize int              `msgpack:"page_size"`
	Pages    map[int][]oid.ID `msgpack:"pages,omitempty"`
}

// Encode serializes the identity and paging state of l. Live objects and
// unresolved rows are not part of the encoding.
func (l *List) Encode() ([]byte, error) {
	w := wireList{Query: l.query, Size: l.size, PageSize: l.pageSize}
	for p := range l.pages {
		ids := l.IDs(p)
		if ids == nil {
			continue
		}
		if w.Pages == nil {
			w.Pages = make(map[int][]oid.ID)
		}
		w.Pages[p] = ids
	}
	data, err := msgpack.Marshal(w)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "encode fault list").
			WithMetadata(map[string]any{"entity": l.query.Entity})
	}
	return data, nil
}

// Decode restores a list from Encode output. The list is detached: reading
// elements fails until it is attached to a session.
func Decode(data []byte) (*List, error) {
	var w wireList
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "decode fault list")
	}
	if w.PageSize <= 0 {
		return nil, newInvalidPageSize(w.PageSize)
	}
	if w.Size < 0 {
		return nil, newInvalidList("fault list size must not be negative", map[string]any{"size": w.Size})
	}
	for i, c := range w.Query.Filter {
		w.Query.Filter[i].Value = rowcodec.Normalize(c.Value)
	}

	l := &List{query: w.Query, size: w.Size, pageSize: w.PageSize}
	l.pages = make([]page, l.pageCount())
	for p, ids := range w.Pages {
		if p < 0 || p >= len(l.pages) {
			continue
		}
		if n := min(l.pageSize, l.size-p*l.pageSize); len(ids) > n {
			return nil, newInvalidList("fault list page holds too many ids", map[string]any{
				"page": p,
				"ids":  len(ids),
				"max":  n,
			})
		}
		l.pages[p].ids = ids
	}
	return l, nil
}

// Attach binds l to sess. Pages resolved in another session, or before
// encoding, are resolved again from their ids on next access.
func (l *List) Attach(sess *session.Session) error {
	if l.sess == sess {
		return nil
	}
	if err := l.bind(sess); err != nil {
		return err
	}
	for p := range l.pages {
		pg := &l.pages[p]
		if pg.resolved() {
			pg.ids = l.IDs(p)
			pg.objects = nil
		}
		pg.rows = nil
	}
	return nil
}
