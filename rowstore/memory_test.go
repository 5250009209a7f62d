package rowstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	m := NewMemoryStore(opts...)
	m.Seed("artists",
		Row{"id": 1, "name": "Monet"},
		Row{"id": 2, "name": "Degas"},
		Row{"id": 3, "name": "Morisot"},
	)
	m.Seed("paintings",
		Row{"id": 10, "title": "Water Lilies", "artist_id": 1},
		Row{"id": 11, "title": "Dancers", "artist_id": 2},
	)
	return m
}

func TestMemoryStore_GeneratedKeysContinueAfterSeed(t *testing.T) {
	m := seededStore(t)
	res, err := m.Execute(context.Background(), Operation{
		Kind:         Insert,
		Table:        "artists",
		Values:       Row{"name": "Renoir"},
		GeneratedKey: "id",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(4)}, res.GeneratedKeys)
	assert.Len(t, m.Rows("artists"), 4)
	assert.Len(t, m.Operations(), 1)
}

func TestMemoryStore_DuplicateKeyIsConstraint(t *testing.T) {
	m := seededStore(t)
	_, err := m.Execute(context.Background(), Operation{Kind: Insert, Table: "artists", Values: Row{"id": 1, "name": "Again"}})
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
	assert.False(t, IsRetryable(err))
	assert.Empty(t, m.Operations())
}

func TestMemoryStore_ForeignKeys(t *testing.T) {
	fk := ForeignKey{Table: "paintings", Column: "artist_id", RefTable: "artists", RefColumn: "id"}
	ctx := context.Background()

	t.Run("immediate", func(t *testing.T) {
		m := seededStore(t, WithForeignKeys(fk))
		_, err := m.Execute(ctx, Operation{Kind: Insert, Table: "paintings", Values: Row{"id": 12, "artist_id": 99}})
		assert.True(t, IsConstraint(err))

		_, err = m.Execute(ctx, Operation{Kind: Delete, Table: "artists", Key: Row{"id": 1}})
		assert.True(t, IsConstraint(err))

		res, err := m.Execute(ctx, Operation{Kind: Delete, Table: "artists", Key: Row{"id": 3}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.RowsAffected)
		assert.False(t, m.Capabilities().DeferredConstraints)
	})

	t.Run("deferred", func(t *testing.T) {
		m := seededStore(t, WithForeignKeys(fk), WithDeferredConstraints())
		_, err := m.Execute(ctx, Operation{Kind: Insert, Table: "paintings", Values: Row{"id": 12, "artist_id": 99}})
		require.NoError(t, err)
		assert.True(t, IsConstraint(m.CheckConstraints()))

		_, err = m.Execute(ctx, Operation{Kind: Insert, Table: "artists", Values: Row{"id": 99, "name": "Late"}})
		require.NoError(t, err)
		assert.NoError(t, m.CheckConstraints())
		assert.True(t, m.Capabilities().DeferredConstraints)
	})
}

func TestMemoryStore_UpdateAndDeleteMissingRow(t *testing.T) {
	m := seededStore(t)
	res, err := m.Execute(context.Background(), Operation{Kind: Update, Table: "artists", Key: Row{"id": 42}, Values: Row{"name": "x"}})
	require.NoError(t, err)
	assert.Zero(t, res.RowsAffected)

	res, err = m.Execute(context.Background(), Operation{Kind: Delete, Table: "artists", Key: Row{"id": 42}})
	require.NoError(t, err)
	assert.Zero(t, res.RowsAffected)
}

func TestMemoryStore_FetchFilterOrderPage(t *testing.T) {
	m := seededStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  []any
	}{
		{
			name:  "order desc",
			query: Query{Table: "artists", Order: []Ordering{Desc("name")}},
			want:  []any{"Morisot", "Monet", "Degas"},
		},
		{
			name:  "like",
			query: Query{Table: "artists", Filter: []Condition{{Column: "name", Op: Like, Value: "Mo%"}}, Order: []Ordering{Asc("id")}},
			want:  []any{"Monet", "Morisot"},
		},
		{
			name:  "in with paging",
			query: Query{Table: "artists", Filter: []Condition{{Column: "id", Op: In, Value: []any{1, 2, 3}}}, Order: []Ordering{Asc("id")}, Offset: 1, Limit: 1},
			want:  []any{"Degas"},
		},
		{
			name:  "greater than",
			query: Query{Table: "artists", Filter: []Condition{{Column: "id", Op: Gt, Value: 2}}},
			want:  []any{"Morisot"},
		},
		{
			name:  "offset past end",
			query: Query{Table: "artists", Offset: 10},
			want:  []any{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := m.Fetch(ctx, tt.query)
			require.NoError(t, err)
			got := make([]any, 0, len(rows))
			for _, r := range rows {
				got = append(got, r["name"])
			}
			assert.Equal(t, tt.want, got)
		})
	}

	n, err := m.Count(ctx, Query{Table: "artists", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryStore_FetchReturnsCopies(t *testing.T) {
	m := seededStore(t)
	rows, err := m.Fetch(context.Background(), Query{Table: "artists", Filter: []Condition{Where("id", 1)}})
	require.NoError(t, err)
	rows[0]["name"] = "changed"

	rows, err = m.Fetch(context.Background(), Query{Table: "artists", Filter: []Condition{Where("id", 1)}, Columns: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, Row{"name": "Monet"}, rows[0])
}

func TestMemoryStore_FailWhen(t *testing.T) {
	m := seededStore(t)
	boom := NewConnectivityError(errors.New("connection reset"), "insert artists")
	m.FailWhen(func(op Operation) error {
		if op.Kind == Insert {
			return boom
		}
		return nil
	})

	_, err := m.Execute(context.Background(), Operation{Kind: Insert, Table: "artists", Values: Row{"id": 5}})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.True(t, IsUnavailable(err))

	_, err = m.Execute(context.Background(), Operation{Kind: Update, Table: "artists", Key: Row{"id": 1}, Values: Row{"name": "x"}})
	assert.NoError(t, err)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(1, int64(1)))
	assert.Equal(t, -1, Compare(nil, 1))
	assert.Equal(t, 1, Compare(2.5, 2))
	assert.Equal(t, -1, Compare("a", "b"))
	assert.Equal(t, -1, Compare(false, true))
}

func TestQuery_OrderedByAppendsMissingColumns(t *testing.T) {
	q := Query{Order: []Ordering{Desc("name")}}.OrderedBy(Asc("name"), Asc("id"))
	assert.Equal(t, []Ordering{Desc("name"), Asc("id")}, q.Order)

	p := q.Page(10, 5).Unpaged()
	assert.Zero(t, p.Limit)
	assert.Zero(t, p.Offset)
	assert.Nil(t, p.Order)
}

func TestCapabilitiesOf(t *testing.T) {
	assert.True(t, CapabilitiesOf(NewMemoryStore(WithDeferredConstraints())).DeferredConstraints)
}
