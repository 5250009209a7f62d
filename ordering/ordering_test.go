package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-object-graph/internal/errcode"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/rowstore"
)

func ids(p Plan) []oid.ID {
	out := make([]oid.ID, len(p.Ops))
	for i, op := range p.Ops {
		out[i] = op.ID
	}
	return out
}

func TestTopological_InsertAfterReferencedInsertDeleteBeforeReferencedDelete(t *testing.T) {
	a, b := oid.NewTemporary("A"), oid.NewTemporary("B")
	c, d := oid.Single("C", "id", 1), oid.Single("D", "id", 1)

	ops := []Operation{
		{ID: a, Kind: rowstore.Insert, Refs: []oid.ID{b}},
		{ID: c, Kind: rowstore.Delete},
		{ID: b, Kind: rowstore.Insert},
		{ID: d, Kind: rowstore.Delete, Refs: []oid.ID{c}},
	}

	plan, err := Default().Sort(ops, rowstore.Capabilities{})
	require.NoError(t, err)
	require.NoError(t, Validate(ops, plan))
	assert.False(t, plan.Deferred)

	pos := map[oid.ID]int{}
	for i, id := range ids(plan) {
		pos[id] = i
	}
	assert.Less(t, pos[b], pos[a], "B must be inserted before A")
	assert.Less(t, pos[d], pos[c], "D must be deleted before C")
}

func TestTopological_StableForIndependentOperations(t *testing.T) {
	var ops []Operation
	for i := 0; i < 6; i++ {
		ops = append(ops, Operation{ID: oid.Single("X", "id", i), Kind: rowstore.Update})
	}
	plan, err := Default().Sort(ops, rowstore.Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, ops, plan.Ops)
}

func TestTopological_UpdateReleasingDeletedRowRunsFirst(t *testing.T) {
	owner := oid.Single("Painting", "id", 1)
	old := oid.Single("Artist", "id", 1)
	next := oid.NewTemporary("Artist")

	ops := []Operation{
		{ID: old, Kind: rowstore.Delete},
		{ID: owner, Kind: rowstore.Update, Refs: []oid.ID{next}, Releases: []oid.ID{old}},
		{ID: next, Kind: rowstore.Insert},
	}
	plan, err := Default().Sort(ops, rowstore.Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, []oid.ID{next, owner, old}, ids(plan))
}

func TestTopological_SelfReferencingInsertIsCycle(t *testing.T) {
	a, b := oid.NewTemporary("Node"), oid.NewTemporary("Node")
	ops := []Operation{
		{ID: b, Kind: rowstore.Insert},
		{ID: a, Kind: rowstore.Insert, Refs: []oid.ID{a}},
	}

	_, err := Default().Sort(ops, rowstore.Capabilities{})
	require.Error(t, err)
	assert.True(t, errcode.Has(err, TextCodeCycle))
	assert.Equal(t, []string{a.String()}, errcode.Metadata(err)["objects"])

	plan, err := Default().Sort(ops, rowstore.Capabilities{DeferredConstraints: true})
	require.NoError(t, err)
	assert.True(t, plan.Deferred)
	assert.Equal(t, []oid.ID{b, a}, ids(plan))
}

func TestTopological_SelfReferencingUpdateIsOrdered(t *testing.T) {
	a := oid.Single("Node", "id", 1)
	ops := []Operation{{ID: a, Kind: rowstore.Update, Refs: []oid.ID{a}}}
	plan, err := Default().Sort(ops, rowstore.Capabilities{})
	require.NoError(t, err)
	assert.False(t, plan.Deferred)
	assert.Equal(t, []oid.ID{a}, ids(plan))
}

func TestTopological_Cycle(t *testing.T) {
	a, b, c := oid.NewTemporary("A"), oid.NewTemporary("B"), oid.NewTemporary("C")
	ops := []Operation{
		{ID: c, Kind: rowstore.Insert},
		{ID: a, Kind: rowstore.Insert, Refs: []oid.ID{b}},
		{ID: b, Kind: rowstore.Insert, Refs: []oid.ID{a}},
	}

	_, err := Default().Sort(ops, rowstore.Capabilities{})
	require.Error(t, err)
	assert.True(t, errcode.Has(err, TextCodeCycle))
	objects := errcode.Metadata(err)["objects"]
	assert.ElementsMatch(t, []string{a.String(), b.String()}, objects)

	plan, err := Default().Sort(ops, rowstore.Capabilities{DeferredConstraints: true})
	require.NoError(t, err)
	assert.True(t, plan.Deferred)
	assert.Equal(t, []oid.ID{c, a, b}, ids(plan))
}

func TestValidate_RejectsNonPermutation(t *testing.T) {
	a, b := oid.NewTemporary("A"), oid.NewTemporary("B")
	ops := []Operation{{ID: a, Kind: rowstore.Insert}, {ID: b, Kind: rowstore.Insert}}

	assert.Error(t, Validate(ops, Plan{Ops: ops[:1]}))
	assert.Error(t, Validate(ops, Plan{Ops: []Operation{ops[0], ops[0]}}))
	assert.Error(t, Validate(ops, Plan{Ops: []Operation{ops[0], {ID: b, Kind: rowstore.Delete}}}))
	assert.NoError(t, Validate(ops, Plan{Ops: []Operation{ops[1], ops[0]}}))
}

func TestSorterFunc(t *testing.T) {
	reverse := SorterFunc(func(ops []Operation, _ rowstore.Capabilities) (Plan, error) {
		out := make([]Operation, len(ops))
		for i, op := range ops {
			out[len(ops)-1-i] = op
		}
		return Plan{Ops: out}, nil
	})
	a, b := oid.NewTemporary("A"), oid.NewTemporary("B")
	plan, err := reverse.Sort([]Operation{{ID: a}, {ID: b}}, rowstore.Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, []oid.ID{b, a}, ids(plan))
}
