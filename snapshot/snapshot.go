// Package snapshot keeps the last known persisted state of rows.
//
// A Snapshot is immutable once built. The Store is a size bounded, sharded
// LRU cache of snapshots shared by every session of a domain; it broadcasts
// change events so sessions holding objects for a replaced or deleted row can
// mark them stale.
package snapshot

import (
	"sync/atomic"

	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/oid"
)

var versions atomic.Uint64

// Snapshot is the immutable column → value state of one row.
type Snapshot struct {
	id      oid.ID
	values  rowcodec.Row
	version uint64
}

// New builds a snapshot for id from a raw row. The row is copied.
func New(id oid.ID, values map[string]any) *Snapshot {
	return &Snapshot{
		id:      id,
		values:  rowcodec.Clone(values),
		version: versions.Add(1),
	}
}

// ID returns the identity of the row.
func (s *Snapshot) ID() oid.ID { return s.id }

// Version is unique per snapshot instance; a replaced row gets a higher one.
func (s *Snapshot) Version() uint64 { return s.version }

// Get returns the value of column.
func (s *Snapshot) Get(column string) (any, bool) {
	v, ok := s.values[column]
	return v, ok
}

// Values returns a deep copy of the row.
func (s *Snapshot) Values() map[string]any {
	return rowcodec.Clone(s.values)
}

// Columns returns the sorted column names.
func (s *Snapshot) Columns() []string {
	return rowcodec.Columns(s.values)
}

// Len returns the number of columns.
func (s *Snapshot) Len() int { return len(s.values) }

// With returns a new snapshot with changes applied on top of s.
func (s *Snapshot) With(changes map[string]any) *Snapshot {
	merged := make(map[string]any, len(s.values)+len(changes))
	for k, v := range s.values {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	return New(s.id, merged)
}

// Rekey returns a copy of s that belongs to id.
func (s *Snapshot) Rekey(id oid.ID) *Snapshot {
	return &Snapshot{id: id, values: s.values, version: versions.Add(1)}
}
