package deletion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacy/api/internal/dsr"
	"privacy/api/internal/store"
	"privacy/api/internal/store/storetest"
)

func seedSoftDeleteData(t *testing.T, docs *storetest.Memory) {
	t.Helper()
	require.NoError(t, docs.Seed("posts",
		store.Record{"id": "p1", "authorId": "U1", "authorName": "Ada", "text": "hello"},
		store.Record{"id": "p2", "authorId": "U1", "text": "evidence"},
		store.Record{"id": "p3", "authorId": "U2", "text": "not mine"},
	))
	require.NoError(t, docs.Seed("comments",
		store.Record{"id": "c1", "authorId": "U1", "text": "reply"},
	))
	require.NoError(t, docs.Seed("likes",
		store.Record{"id": "l1", "userId": "U1", "deleted": true, "deletedAt": daysAgo(3), "deletedBy": "dsr:older"},
		store.Record{"id": "l2", "userId": "U1"},
	))
}

func newTestDeleteWorker(docs store.Documents, holds HoldChecker) (*Worker, *dsr.RequestStore) {
	requests := dsr.NewRequestStore(docs)
	w := NewWorker(requests, docs, holds, nil, zerolog.Nop())
	w.now = func() time.Time { return testNow }
	return w, requests
}

func seedDeleteRequest(t *testing.T, requests *dsr.RequestStore, status dsr.Status) dsr.Request {
	t.Helper()
	req := dsr.Request{ID: "dsr_9", Type: dsr.TypeDelete, UserID: "U1", RequestedBy: "admin", RequestedAt: testNow.Add(-time.Hour), Status: status}
	require.NoError(t, requests.Create(context.Background(), req))
	return req
}

func TestDeleteWorkerBlockedByUserHold(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	seedSoftDeleteData(t, docs)
	holds := newTestHolds(docs)
	placeHold(t, holds, dsr.HoldScopeUser, "U1")
	worker, requests := newTestDeleteWorker(docs, holds)
	req := seedDeleteRequest(t, requests, dsr.StatusQueued)

	before := map[string][]store.Record{}
	for _, c := range []string{"posts", "comments", "likes"} {
		before[c] = docs.All(c)
	}

	require.NoError(t, worker.Run(ctx, req))

	stored, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, dsr.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "legal hold")
	assert.Equal(t, []string{"delete.started", "delete.hold"}, auditEvents(stored.Audit))
	for c, records := range before {
		assert.Equal(t, records, docs.All(c), "%s must not be touched", c)
	}
}

func TestDeleteWorkerSoftMarksRecords(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	seedSoftDeleteData(t, docs)
	holds := newTestHolds(docs)
	placeHold(t, holds, dsr.HoldScopePost, "p2")
	worker, requests := newTestDeleteWorker(docs, holds)
	req := seedDeleteRequest(t, requests, dsr.StatusQueued)

	require.NoError(t, worker.Run(ctx, req))

	stored, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, dsr.StatusSucceeded, stored.Status)
	assert.Equal(t, 1, stored.Attempt)
	assert.Empty(t, stored.FailureReason)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, []string{"delete.started", "delete.succeeded"}, auditEvents(stored.Audit))
	assert.EqualValues(t, 3, stored.Audit[1].Meta["marked"])
	assert.EqualValues(t, 1, stored.Audit[1].Meta["skippedForHold"])

	p1 := mustGet(t, docs, "posts", "p1")
	assert.Equal(t, true, p1["deleted"])
	assert.Equal(t, "dsr:dsr_9", p1["deletedBy"])
	assert.Equal(t, testNow.Format(time.RFC3339Nano), p1["deletedAt"])
	assert.Equal(t, "hello", p1["text"], "content is kept")
	assert.Equal(t, "U1", p1["authorId"], "identifying fields are kept")
	assert.Equal(t, "Ada", p1["authorName"])

	assert.NotContains(t, mustGet(t, docs, "posts", "p2"), "deleted", "held post is skipped")
	assert.NotContains(t, mustGet(t, docs, "posts", "p3"), "deleted")
	assert.Equal(t, true, mustGet(t, docs, "comments", "c1")["deleted"])
	assert.Equal(t, "dsr:older", mustGet(t, docs, "likes", "l1")["deletedBy"], "already deleted records keep their mark")
	assert.Equal(t, "dsr:dsr_9", mustGet(t, docs, "likes", "l2")["deletedBy"])
}

func TestDeleteWorkerSwallowsRecordFailures(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	seedSoftDeleteData(t, docs)
	docs.FailFn = func(op, container, id string) error {
		if op == "replace" && container == "comments" {
			return errors.New("write conflict")
		}
		return nil
	}
	worker, requests := newTestDeleteWorker(docs, newTestHolds(docs))
	req := seedDeleteRequest(t, requests, dsr.StatusQueued)

	require.NoError(t, worker.Run(ctx, req))

	stored, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, dsr.StatusSucceeded, stored.Status)
	assert.EqualValues(t, 1, stored.Audit[1].Meta["errorCount"])
	assert.NotContains(t, mustGet(t, docs, "comments", "c1"), "deleted")
	assert.Equal(t, true, mustGet(t, docs, "posts", "p2")["deleted"])
}

func TestDeleteWorkerFailsWhenBucketUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := storetest.NewMemory()
	seedSoftDeleteData(t, mem)
	docs := queryFailingDocs{Memory: mem, container: "comments"}
	worker, requests := newTestDeleteWorker(docs, newTestHolds(mem))
	req := seedDeleteRequest(t, requests, dsr.StatusQueued)

	err := worker.Run(ctx, req)
	require.ErrorIs(t, err, errQuery)

	stored, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, dsr.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "query comments")
	assert.Equal(t, []string{"delete.started", "delete.failed"}, auditEvents(stored.Audit))
}

func TestDeleteWorkerFailsWhenHoldCheckFails(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	seedSoftDeleteData(t, docs)
	holdErr := errors.New("holds unavailable")
	holds := &fakeHolds{hasHoldFn: func(context.Context, dsr.HoldScope, string) (bool, error) { return false, holdErr }}
	worker, requests := newTestDeleteWorker(docs, holds)
	req := seedDeleteRequest(t, requests, dsr.StatusQueued)

	require.ErrorIs(t, worker.Run(ctx, req), holdErr)
	assert.NotContains(t, mustGet(t, docs, "posts", "p1"), "deleted")
}

func TestDeleteWorkerRunsAfterHoldCleared(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	seedSoftDeleteData(t, docs)
	holds := newTestHolds(docs)
	hold := placeHold(t, holds, dsr.HoldScopeUser, "U1")
	worker, requests := newTestDeleteWorker(docs, holds)
	req := seedDeleteRequest(t, requests, dsr.StatusQueued)

	require.NoError(t, worker.Run(ctx, req))
	_, err := holds.Clear(ctx, hold.ID, "legal")
	require.NoError(t, err)

	failed, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NoError(t, worker.Run(ctx, failed))

	stored, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, dsr.StatusSucceeded, stored.Status)
	assert.Equal(t, 2, stored.Attempt)
	assert.Equal(t, true, mustGet(t, docs, "posts", "p1")["deleted"])
}
