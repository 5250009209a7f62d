package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-object-graph/rowstore"
)

func TestLoadFixture(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	testContent := []byte("test fixture content")

	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	result := LoadFixture(t, testFile)
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestLoadFixtureJSON(t *testing.T) {
	var result struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	LoadFixtureJSON(t, FixturePath("gallery.json"), &result)

	if len(result.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(result.Tables))
	}
	if result.Tables[0].Name != "artists" {
		t.Errorf("expected first table artists, got %q", result.Tables[0].Name)
	}
}

func TestLoadDataset_Numbers(t *testing.T) {
	ds := LoadDataset(t, FixturePath("gallery.json"))

	paintings := ds.Table("paintings")
	if len(paintings) != 3 {
		t.Fatalf("expected 3 paintings, got %d", len(paintings))
	}

	tests := []struct {
		name   string
		row    int
		column string
		want   any
	}{
		{"integer key", 0, "id", int64(10)},
		{"integer column", 0, "year", int64(1906)},
		{"fractional", 0, "rating", 4.5},
		{"whole float literal", 1, "rating", int64(4)},
		{"null", 2, "year", nil},
		{"string", 2, "title", "Dancers"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := paintings[tc.row][tc.column]
			if got != tc.want {
				t.Errorf("expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

func TestDataset_UnknownTable(t *testing.T) {
	ds := LoadDataset(t, FixturePath("gallery.json"))
	if rows := ds.Table("sculptures"); rows != nil {
		t.Errorf("expected no rows, got %v", rows)
	}
}

func TestParseDataset_Invalid(t *testing.T) {
	if _, err := ParseDataset([]byte(`{"tables": [`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestSeedMemory(t *testing.T) {
	store := rowstore.NewMemoryStore()
	SeedMemory(store, LoadDataset(t, FixturePath("gallery.json")))

	if n := len(store.Rows("artists")); n != 2 {
		t.Errorf("expected 2 artists, got %d", n)
	}
	if n := len(store.Rows("paintings")); n != 3 {
		t.Errorf("expected 3 paintings, got %d", n)
	}
	if ops := store.Operations(); len(ops) != 0 {
		t.Errorf("expected seeding to bypass the operation log, got %d ops", len(ops))
	}
}

func TestSeed_ThroughExecute(t *testing.T) {
	store := rowstore.NewMemoryStore(rowstore.WithForeignKeys(rowstore.ForeignKey{
		Table: "paintings", Column: "artist_id", RefTable: "artists", RefColumn: "id",
	}))
	ds := LoadDataset(t, FixturePath("gallery.json"))

	Seed(context.Background(), t, store, ds, map[string]string{"artists": "Artist", "paintings": "Painting"})

	ops := store.Operations()
	if len(ops) != 5 {
		t.Fatalf("expected 5 inserts, got %d", len(ops))
	}
	if ops[0].Entity != "Artist" || ops[4].Entity != "Painting" {
		t.Errorf("unexpected entities %q and %q", ops[0].Entity, ops[4].Entity)
	}

	res, err := store.Execute(context.Background(), rowstore.Operation{
		Kind:         rowstore.Insert,
		Table:        "artists",
		Values:       map[string]any{"name": "Cassatt"},
		GeneratedKey: "id",
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if got := res.GeneratedKeys["id"]; got != int64(3) {
		t.Errorf("expected generated id 3, got %v", got)
	}
}

func TestFixturePath(t *testing.T) {
	if got := FixturePath("gallery.json"); got != filepath.Join("testdata", "gallery.json") {
		t.Errorf("unexpected path %q", got)
	}
}
