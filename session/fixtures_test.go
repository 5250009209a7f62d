package session

import (
	"context"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/rowstore"
)

var paintingArtistFK = rowstore.ForeignKey{
	Table:     "paintings",
	Column:    "artist_id",
	RefTable:  "artists",
	RefColumn: "id",
}

func artistID(id int) oid.ID   { return oid.Single("Artist", "id", id) }
func paintingID(id int) oid.ID { return oid.Single("Painting", "id", id) }

// galleryRegistry maps artists and their paintings. rule is applied to the
// paintings of a deleted artist.
func galleryRegistry(t *testing.T, rule mapping.DeleteRule) *mapping.Registry {
	t.Helper()
	reg, err := mapping.NewRegistry(
		mapping.EntityDescriptor{
			Name:        "Artist",
			KeyStrategy: mapping.KeyGenerated,
			Relationships: []mapping.Relationship{{
				Name:       "paintings",
				Target:     "Painting",
				ForeignKey: "artist_id",
				ToMany:     true,
				Reverse:    "artist",
				DeleteRule: rule,
			}},
			Fields: map[string][]validation.Rule{
				"name": {validation.Required},
			},
		},
		mapping.EntityDescriptor{
			Name:        "Painting",
			KeyStrategy: mapping.KeyGenerated,
			Relationships: []mapping.Relationship{{
				Name:       "artist",
				Target:     "Artist",
				ForeignKey: "artist_id",
				Reverse:    "paintings",
			}},
		},
	)
	require.NoError(t, err)
	return reg
}

func seedGallery(store *rowstore.MemoryStore) {
	store.Seed("artists",
		rowstore.Row{"id": 1, "name": "Monet"},
		rowstore.Row{"id": 2, "name": "Degas"},
	)
	store.Seed("paintings",
		rowstore.Row{"id": 10, "title": "Water Lilies", "artist_id": 1},
		rowstore.Row{"id": 11, "title": "Haystacks", "artist_id": 1},
		rowstore.Row{"id": 12, "title": "Dancers", "artist_id": 2},
	)
}

type fixture struct {
	ctx    context.Context
	store  *rowstore.MemoryStore
	domain *Domain
}

func newFixture(t *testing.T, rule mapping.DeleteRule, opts ...Option) *fixture {
	t.Helper()
	store := rowstore.NewMemoryStore(rowstore.WithForeignKeys(paintingArtistFK))
	seedGallery(store)
	domain, err := NewDomain(store, galleryRegistry(t, rule), opts...)
	require.NoError(t, err)
	t.Cleanup(domain.Close)
	return &fixture{ctx: context.Background(), store: store, domain: domain}
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s := f.domain.NewSession()
	t.Cleanup(s.Close)
	return s
}

func mustGet(t *testing.T, s *Session, id oid.ID) *Object {
	t.Helper()
	o, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func mustRead(t *testing.T, s *Session, o *Object, column string) any {
	t.Helper()
	v, err := s.Read(context.Background(), o, column)
	require.NoError(t, err)
	return v
}

func newArtist(t *testing.T, s *Session, name string) *Object {
	t.Helper()
	o, err := s.NewObject("Artist")
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), o, "name", name))
	return o
}

func newPainting(t *testing.T, s *Session, title string) *Object {
	t.Helper()
	o, err := s.NewObject("Painting")
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), o, "title", title))
	return o
}

func tables(ops []rowstore.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Kind.String() + " " + op.Table
	}
	return out
}

// nodeSession returns a session over nodes that reference each other
// through peer_id.
func nodeSession(t *testing.T, opts ...rowstore.MemoryOption) (*Session, *rowstore.MemoryStore) {
	t.Helper()
	reg := mapping.MustRegistry(mapping.EntityDescriptor{
		Name:        "Node",
		KeyStrategy: mapping.KeyGenerated,
		Relationships: []mapping.Relationship{{
			Name: "peer", Target: "Node", ForeignKey: "peer_id",
		}},
	})
	opts = append(opts, rowstore.WithForeignKeys(rowstore.ForeignKey{
		Table: "nodes", Column: "peer_id", RefTable: "nodes", RefColumn: "id",
	}))
	store := rowstore.NewMemoryStore(opts...)
	domain, err := NewDomain(store, reg)
	require.NoError(t, err)
	s := domain.NewSession()
	t.Cleanup(s.Close)
	return s, store
}

func linkedPair(t *testing.T, s *Session) (*Object, *Object) {
	t.Helper()
	ctx := context.Background()
	a, err := s.NewObject("Node")
	require.NoError(t, err)
	b, err := s.NewObject("Node")
	require.NoError(t, err)
	require.NoError(t, s.SetRelated(ctx, a, "peer", b))
	require.NoError(t, s.SetRelated(ctx, b, "peer", a))
	return a, b
}
