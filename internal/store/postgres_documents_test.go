package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDocumentQuery(t *testing.T) {
	from := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	query, args, err := buildDocumentQuery(ContainerRequests, Query{
		Where: []Cond{
			Eq("type", "export"),
			In("status", "queued", "failed"),
			Since("requestedAt", from),
		},
		AnyOf:  []Cond{Eq("actorId", "u1"), Eq("userId", "u1")},
		SortBy: "requestedAt",
		Desc:   true,
		Offset: 50,
		Limit:  25,
	})
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"SELECT body FROM documents WHERE container = $1",
		"body -> $2::text = $3::jsonb",
		"body ->> $4::text = ANY($5::text[])",
		"(body ->> $6::text)::timestamptz >= $7",
		"(body -> $8::text = $9::jsonb OR body -> $10::text = $11::jsonb) ORDER BY (body ->> $12::text)::timestamptz DESC NULLS LAST, id ASC LIMIT $13 OFFSET $14",
	}, " AND "), query)
	assert.Equal(t, []any{
		ContainerRequests,
		"type", `"export"`,
		"status", []string{"queued", "failed"},
		"requestedAt", from,
		"actorId", `"u1"`, "userId", `"u1"`,
		"requestedAt", 25, 50,
	}, args)
}

func TestBuildDocumentQueryDefaultsToIDOrder(t *testing.T) {
	query, args, err := buildDocumentQuery("likes", Query{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT body FROM documents WHERE container = $1 ORDER BY id ASC", query)
	assert.Equal(t, []any{"likes"}, args)
}

func TestBuildDocumentQueryRejectsBadConditions(t *testing.T) {
	_, _, err := buildDocumentQuery("likes", Query{Where: []Cond{{Op: OpEq, Value: "x"}}})
	assert.Error(t, err)

	_, _, err = buildDocumentQuery("likes", Query{Where: []Cond{{Field: "userId", Op: OpIn, Value: "x"}}})
	assert.Error(t, err)

	_, _, err = buildDocumentQuery("likes", Query{Where: []Cond{{Field: "deletedAt", Op: OpBefore, Value: "yesterday"}}})
	assert.Error(t, err)

	_, _, err = buildDocumentQuery("likes", Query{Where: []Cond{{Field: "userId", Op: "like", Value: "x"}}})
	assert.Error(t, err)
}

func TestRecordAccessors(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{"id": "r1", "deleted": true, "deletedAt": at.Format(time.RFC3339Nano), "count": 3.0}

	assert.Equal(t, "r1", rec.ID())
	assert.True(t, rec.Bool("deleted"))
	assert.False(t, rec.Bool("count"))
	got, ok := rec.Time("deletedAt")
	require.True(t, ok)
	assert.True(t, got.Equal(at))
	_, ok = rec.Time("missing")
	assert.False(t, ok)

	clone := rec.Clone()
	clone["id"] = "r2"
	assert.Equal(t, "r1", rec.ID())
}

func TestEncodeDecode(t *testing.T) {
	type payload struct {
		ID    string   `json:"id"`
		Tags  []string `json:"tags,omitempty"`
		Notes *string  `json:"notes,omitempty"`
	}

	rec, err := Encode(payload{ID: "x", Tags: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "x", "tags": []any{"a"}}, rec)

	var out payload
	require.NoError(t, Decode(rec, &out))
	assert.Equal(t, payload{ID: "x", Tags: []string{"a"}}, out)
}
