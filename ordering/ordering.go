// Package ordering sequences the writes of a commit so foreign keys are
// satisfied at every step.
//
// The default sorter builds a dependency graph over pending operations and
// emits them in topological order, breaking ties by registration order.
// Sessions accept any Sorter, so callers can plug their own policy.
package ordering

import (
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/rowstore"
)

const (
	// TextCodeCycle marks commits whose operations form a dependency cycle.
	TextCodeCycle = "UNRESOLVABLE_DEPENDENCY_CYCLE"
	// TextCodeInvalidPlan marks plans that are not a permutation of their input.
	TextCodeInvalidPlan = "INVALID_COMMIT_PLAN"
)

// Operation is a pending write annotated with the objects it depends on.
type Operation struct {
	ID     oid.ID
	Kind   rowstore.OperationKind
	Entity string

	// Refs are the objects the row references once the write is applied.
	Refs []oid.ID

	// Releases are objects the row referenced before an update.
	Releases []oid.ID
}

func (op Operation) String() string {
	return op.Kind.String() + " " + op.ID.String()
}

// Plan is the linear sequence a session executes.
type Plan struct {
	Ops []Operation

	// Deferred is set when the operations contain a cycle and the row store
	// checks constraints at transaction end. Unresolved references are then
	// written as NULL and fixed up after every insert ran.
	Deferred bool
}

// Sorter turns unordered operations into a plan.
type Sorter interface {
	Sort(ops []Operation, caps rowstore.Capabilities) (Plan, error)
}

// SorterFunc adapts a function to Sorter.
type SorterFunc func(ops []Operation, caps rowstore.Capabilities) (Plan, error)

// Sort implements Sorter.
func (f SorterFunc) Sort(ops []Operation, caps rowstore.Capabilities) (Plan, error) {
	return f(ops, caps)
}

// NewCycleError reports operations caught in a dependency cycle.
func NewCycleError(ids []oid.ID) error {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return goerrors.New("unresolvable dependency cycle between "+strings.Join(names, ", "),
		goerrors.CategoryConflict).
		WithTextCode(TextCodeCycle).
		WithMetadata(map[string]any{"objects": names})
}

// Validate checks that p holds exactly the operations of in.
func Validate(in []Operation, p Plan) error {
	if len(in) != len(p.Ops) {
		return invalidPlan(fmt.Sprintf("plan has %d operations, expected %d", len(p.Ops), len(in)))
	}
	want := make(map[oid.ID]rowstore.OperationKind, len(in))
	for _, op := range in {
		want[op.ID] = op.Kind
	}
	for _, op := range p.Ops {
		kind, ok := want[op.ID]
		if !ok || kind != op.Kind {
			return invalidPlan("plan contains unexpected operation " + op.String())
		}
		delete(want, op.ID)
	}
	return nil
}

func invalidPlan(msg string) error {
	return goerrors.New(msg, goerrors.CategoryInternal).WithTextCode(TextCodeInvalidPlan)
}
