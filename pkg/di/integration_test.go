package di

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/goliatone/go-object-graph/faultlist"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/pkg/testsupport"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/rowstore/bunstore"
	"github.com/goliatone/go-object-graph/session"
)

const gallerySchema = `
CREATE TABLE artists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE paintings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	year INTEGER,
	rating REAL,
	artist_id INTEGER REFERENCES artists(id)
);`

var galleryEntities = map[string]string{"artists": "Artist", "paintings": "Painting"}

func newMemoryContainer(t *testing.T, rule mapping.DeleteRule) (*Container, *rowstore.MemoryStore) {
	t.Helper()

	store := rowstore.NewMemoryStore(rowstore.WithForeignKeys(rowstore.ForeignKey{
		Table: "paintings", Column: "artist_id", RefTable: "artists", RefColumn: "id",
	}))
	testsupport.SeedMemory(store, testsupport.LoadDataset(t, testsupport.FixturePath("gallery.json")))

	container, err := NewContainerWithDefaults(store, galleryRegistry(rule))
	if err != nil {
		t.Fatalf("Failed to create DI container: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })
	return container, store
}

func newSQLiteContainer(t *testing.T, rule mapping.DeleteRule) *Container {
	t.Helper()

	db := bunstore.DefaultConfig()
	db.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", strings.ReplaceAll(t.Name(), "/", "_"))

	container, err := NewBunContainer(DefaultConfig(), db, galleryRegistry(rule))
	if err != nil {
		t.Fatalf("Failed to create DI container: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })

	store, ok := container.RowStore().(*bunstore.Store)
	if !ok {
		t.Fatalf("Expected a bun row store, got %T", container.RowStore())
	}
	ctx := context.Background()
	for _, stmt := range strings.Split(gallerySchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := store.DB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
	}
	testsupport.Seed(ctx, t, store, testsupport.LoadDataset(t, testsupport.FixturePath("gallery.json")), galleryEntities)
	return container
}

func artistsQuery(strategy querycache.Strategy) querycache.Query {
	return querycache.Query{
		Entity:   "Artist",
		Order:    []rowstore.Ordering{rowstore.Asc("id")},
		Strategy: strategy,
	}
}

func TestEndToEndSharedQueryFlow(t *testing.T) {
	container, store := newMemoryContainer(t, mapping.NoAction)
	ctx := context.Background()

	reader := container.NewSession()
	defer reader.Close()
	writer := container.NewSession()
	defer writer.Close()

	q := artistsQuery(querycache.SharedCache)
	for i := 0; i < 3; i++ {
		artists, err := reader.Select(ctx, q)
		if err != nil {
			t.Fatalf("Select() failed: %v", err)
		}
		if len(artists) != 2 {
			t.Fatalf("Expected 2 artists, got %d", len(artists))
		}
	}
	if store.FetchCount() != 1 {
		t.Errorf("Expected one row store fetch, got %d", store.FetchCount())
	}

	artists, err := writer.Select(ctx, q)
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if store.FetchCount() != 1 {
		t.Errorf("Expected the writer to reuse the shared result, got %d fetches", store.FetchCount())
	}
	if err := writer.Set(ctx, artists[0], "name", "Claude Monet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := writer.CommitChanges(ctx); err != nil {
		t.Fatalf("CommitChanges() failed: %v", err)
	}

	artists, err = reader.Select(ctx, q)
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if store.FetchCount() != 2 {
		t.Errorf("Expected commit to invalidate the shared result, got %d fetches", store.FetchCount())
	}
	name, err := reader.Read(ctx, artists[0], "name")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if name != "Claude Monet" {
		t.Errorf("Expected reader to see the committed name, got %v", name)
	}
}

func TestEndToEndFaultList(t *testing.T) {
	container, store := newMemoryContainer(t, mapping.NoAction)
	ctx := context.Background()
	s := container.NewSession()
	defer s.Close()

	q := querycache.Query{Entity: "Painting", Strategy: querycache.LocalCache}
	list, err := faultlist.Select(ctx, s, q, 2)
	if err != nil {
		t.Fatalf("faultlist.Select() failed: %v", err)
	}
	again, err := faultlist.Select(ctx, s, q, 2)
	if err != nil {
		t.Fatalf("faultlist.Select() failed: %v", err)
	}
	if list != again {
		t.Error("Expected the cached fault list to be returned")
	}
	if list.Size() != 3 || list.Pages() != 2 {
		t.Fatalf("Expected 3 elements in 2 pages, got %d in %d", list.Size(), list.Pages())
	}

	last, err := list.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if last.ID() != oid.Single("Painting", "id", 12) {
		t.Errorf("Unexpected last element %v", last.ID())
	}
	if list.Resolved(0) {
		t.Error("Expected the first page to stay unresolved")
	}
	if store.FetchCount() != 2 {
		t.Errorf("Expected 2 page fetches, got %d", store.FetchCount())
	}
}

func TestEndToEndBunStore(t *testing.T) {
	container := newSQLiteContainer(t, mapping.Cascade)
	ctx := context.Background()
	s := container.NewSession()
	defer s.Close()

	painting, err := s.NewObject("Painting")
	if err != nil {
		t.Fatalf("NewObject() failed: %v", err)
	}
	if err := s.Set(ctx, painting, "title", "Boating"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	artist, err := s.NewObject("Artist")
	if err != nil {
		t.Fatalf("NewObject() failed: %v", err)
	}
	if err := s.Set(ctx, artist, "name", "Manet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.SetRelated(ctx, painting, "artist", artist); err != nil {
		t.Fatalf("SetRelated() failed: %v", err)
	}

	if err := s.CommitChanges(ctx); err != nil {
		t.Fatalf("CommitChanges() failed: %v", err)
	}
	if artist.ID() != oid.Single("Artist", "id", 3) {
		t.Errorf("Expected artist id 3, got %v", artist.ID())
	}
	if painting.State() != session.Committed {
		t.Errorf("Expected committed painting, got %v", painting.State())
	}

	other := container.NewSession()
	defer other.Close()
	paintings, err := other.Select(ctx, querycache.Query{
		Entity: "Painting",
		Filter: []rowstore.Condition{rowstore.Where("artist_id", 3)},
	})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if len(paintings) != 1 {
		t.Fatalf("Expected 1 painting of the new artist, got %d", len(paintings))
	}

	monet, err := other.Get(ctx, oid.Single("Artist", "id", 1))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if err := other.DeleteObject(ctx, monet); err != nil {
		t.Fatalf("DeleteObject() failed: %v", err)
	}
	if err := other.CommitChanges(ctx); err != nil {
		t.Fatalf("CommitChanges() failed: %v", err)
	}

	n, err := container.RowStore().Count(ctx, rowstore.Query{Table: "paintings"})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected cascade to leave 2 paintings, got %d", n)
	}
}

func TestErrorPropagation(t *testing.T) {
	container, store := newMemoryContainer(t, mapping.NoAction)
	ctx := context.Background()
	s := container.NewSession()
	defer s.Close()

	store.FailWhen(func(op rowstore.Operation) error {
		return rowstore.NewConnectivityError(nil, "connection reset")
	})

	monet, err := s.Get(ctx, oid.Single("Artist", "id", 1))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if err := s.Set(ctx, monet, "name", "Oscar-Claude Monet"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	err = s.CommitChanges(ctx)
	if !session.IsRowStoreError(err) {
		t.Fatalf("Expected a row store error, got %v", err)
	}
	if !s.HasChanges() {
		t.Error("Expected pending changes to survive a failed commit")
	}
}

func TestNewBunContainer_InvalidDatabaseConfig(t *testing.T) {
	db := bunstore.DefaultConfig()
	db.Driver = "mysql"
	if _, err := NewBunContainer(DefaultConfig(), db, galleryRegistry(mapping.NoAction)); err == nil {
		t.Error("NewBunContainer() should fail with an unsupported driver")
	}
}
