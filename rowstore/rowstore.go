// Package rowstore defines the contract between the object graph and the
// relational storage it persists to.
//
// A RowStore executes single row writes and answers abstract queries with
// raw rows. The package ships an in-memory implementation used in tests and
// examples; the bunstore subpackage provides a bun backed implementation for
// sqlite and postgres.
package rowstore

import (
	"context"

	"github.com/goliatone/go-object-graph/internal/rowcodec"
)

// Row is a raw column → value mapping.
type Row = map[string]any

// OperationKind is the kind of a write.
type OperationKind int

const (
	Insert OperationKind = iota + 1
	Update
	Delete
)

func (k OperationKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is one single row write.
type Operation struct {
	Kind   OperationKind
	Entity string
	Table  string

	// Key selects the row for updates and deletes.
	Key map[string]any

	// Values holds every column for inserts and the changed columns for updates.
	Values map[string]any

	// GeneratedKey names the key column the store must generate on insert.
	GeneratedKey string
}

// Clone returns a deep copy of op.
func (op Operation) Clone() Operation {
	op.Key = rowcodec.Clone(op.Key)
	op.Values = rowcodec.Clone(op.Values)
	return op
}

// Result reports the effect of an operation.
type Result struct {
	RowsAffected int64

	// GeneratedKeys holds store generated key values after an insert.
	GeneratedKeys map[string]any
}

// RowStore is the storage collaborator of a domain.
type RowStore interface {
	Execute(ctx context.Context, op Operation) (Result, error)
	Fetch(ctx context.Context, q Query) ([]Row, error)
	Count(ctx context.Context, q Query) (int, error)
}

// Capabilities advertises optional store features.
type Capabilities struct {
	// DeferredConstraints means foreign keys are checked at transaction end,
	// so rows in a reference cycle can be inserted with fixups afterwards.
	DeferredConstraints bool
}

// CapabilityReporter is implemented by stores with optional features.
type CapabilityReporter interface {
	Capabilities() Capabilities
}

// CapabilitiesOf returns the capabilities advertised by rs.
func CapabilitiesOf(rs RowStore) Capabilities {
	if r, ok := rs.(CapabilityReporter); ok {
		return r.Capabilities()
	}
	return Capabilities{}
}
