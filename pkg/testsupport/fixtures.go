// Package testsupport loads JSON fixtures and seeds row stores with them.
package testsupport

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-object-graph/rowstore"
)

// Table is the fixture content of one table. Rows are seeded in order.
type Table struct {
	Name string         `json:"name"`
	Rows []rowstore.Row `json:"rows"`
}

// Dataset is an ordered list of tables. Referenced tables come first so
// datasets can be inserted into stores that enforce foreign keys.
type Dataset struct {
	Tables []Table `json:"tables"`
}

// Table returns the rows of the named table.
func (d Dataset) Table(name string) []rowstore.Row {
	for _, t := range d.Tables {
		if t.Name == name {
			return t.Rows
		}
	}
	return nil
}

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadDataset loads a Dataset fixture. Whole numbers decode as int64, other
// numbers as float64.
func LoadDataset(t testing.TB, path string) Dataset {
	t.Helper()

	ds, err := ParseDataset(LoadFixture(t, path))
	if err != nil {
		t.Fatalf("failed to parse dataset %s: %v", path, err)
	}
	return ds
}

// ParseDataset decodes a Dataset from JSON.
func ParseDataset(data []byte) (Dataset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		return Dataset{}, err
	}
	for _, t := range ds.Tables {
		for _, row := range t.Rows {
			for col, v := range row {
				row[col] = number(v)
			}
		}
	}
	return ds, nil
}

func number(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// SeedMemory copies every table of ds into store, bypassing constraint checks.
func SeedMemory(store *rowstore.MemoryStore, ds Dataset) {
	for _, t := range ds.Tables {
		store.Seed(t.Name, t.Rows...)
	}
}

// Seed inserts every row of ds through store, table by table. entities maps
// table names to the entity names recorded on the operations.
func Seed(ctx context.Context, t testing.TB, store rowstore.RowStore, ds Dataset, entities map[string]string) {
	t.Helper()

	for _, table := range ds.Tables {
		for i, row := range table.Rows {
			_, err := store.Execute(ctx, rowstore.Operation{
				Kind:   rowstore.Insert,
				Entity: entities[table.Name],
				Table:  table.Name,
				Values: row,
			})
			if err != nil {
				t.Fatalf("failed to seed row %d of %s: %v", i, table.Name, err)
			}
		}
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}
