package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacy/api/internal/store"
)

func TestMemoryCreateGetReplace(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Create(ctx, "posts", store.Record{"id": "p1", "authorId": "u1"}))
	assert.ErrorIs(t, mem.Create(ctx, "posts", store.Record{"id": "p1"}), store.ErrAlreadyExists)

	rec, version, err := mem.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, "u1", rec.String("authorId"))

	rec["authorId"] = "u2"
	stored, _, err := mem.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.String("authorId"), "returned records must be copies")

	require.NoError(t, mem.Replace(ctx, "posts", rec, 1))
	assert.ErrorIs(t, mem.Replace(ctx, "posts", rec, 1), store.ErrVersionMismatch)
	assert.ErrorIs(t, mem.Replace(ctx, "posts", store.Record{"id": "missing"}, 0), store.ErrNotFound)

	_, version, err = mem.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestMemoryQueryFiltersAndOrdering(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mem.Seed("decisions",
		store.Record{"id": "d1", "actorId": "u1", "createdAt": base.Format(time.RFC3339Nano)},
		store.Record{"id": "d2", "userId": "u1", "createdAt": base.Add(time.Hour).Format(time.RFC3339Nano)},
		store.Record{"id": "d3", "actorId": "u2", "createdAt": base.Add(2 * time.Hour).Format(time.RFC3339Nano)},
		store.Record{"id": "d4", "userId": "u1"},
	))

	got, err := mem.Query(ctx, "decisions", store.Query{
		AnyOf:  []store.Cond{store.Eq("actorId", "u1"), store.Eq("userId", "u1")},
		SortBy: "createdAt",
		Desc:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d1", "d4"}, ids(got))

	got, err = mem.Query(ctx, "decisions", store.Query{
		Where: []store.Cond{store.Since("createdAt", base.Add(time.Hour))},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d3"}, ids(got))

	got, err = mem.Query(ctx, "decisions", store.Query{
		Where: []store.Cond{store.In("actorId", "u1", "u2")},
		Limit: 1, Offset: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d3"}, ids(got))
}

func TestMemoryEqComparesJSONValues(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.Seed("holds",
		store.Record{"id": "h1", "active": true, "priority": 2},
		store.Record{"id": "h2", "active": false, "priority": 2.0},
	))

	got, err := mem.Query(ctx, "holds", store.Query{Where: []store.Cond{store.Eq("active", true)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, ids(got))

	got, err = mem.Query(ctx, "holds", store.Query{Where: []store.Cond{store.Eq("priority", 2)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, ids(got))
}

func TestMemoryFailFn(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	require.NoError(t, mem.Seed("likes", store.Record{"id": "l1"}, store.Record{"id": "l2"}))
	boom := errors.New("boom")
	mem.FailFn = func(op, container, id string) error {
		if op == "delete" && id == "l1" {
			return boom
		}
		return nil
	}

	assert.ErrorIs(t, mem.Delete(ctx, "likes", "l1"), boom)
	require.NoError(t, mem.Delete(ctx, "likes", "l2"))
	assert.Equal(t, 1, mem.Count("likes"))
}

func ids(records []store.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ID())
	}
	return out
}
