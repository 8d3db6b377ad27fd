package dsr

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacy/api/internal/store"
	"privacy/api/internal/store/storetest"
)

type fakePublisher struct {
	enqueueFn func(context.Context, Message) error
	messages  []Message
}

func (f *fakePublisher) Enqueue(ctx context.Context, msg Message) error {
	if f.enqueueFn != nil {
		if err := f.enqueueFn(ctx, msg); err != nil {
			return err
		}
	}
	f.messages = append(f.messages, msg)
	return nil
}

func newTestService(docs *storetest.Memory, publisher Publisher) *Service {
	requests := NewRequestStore(docs)
	svc := NewService(requests, NewHoldRegistry(docs, zerolog.Nop()), newTestWorkflow(docs, &fakeSigner{}), publisher, zerolog.Nop())
	svc.now = func() time.Time { return reviewNow }
	return svc
}

func TestEnqueueExportCreatesQueuedRequestAndPublishes(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	publisher := &fakePublisher{}
	svc := newTestService(docs, publisher)

	req, err := svc.EnqueueExport(ctx, EnqueueInput{UserID: "user-1", RequestedBy: "admin", Note: "ticket 42"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(req.ID, "dsr_"))
	assert.Equal(t, StatusQueued, req.Status)
	assert.Equal(t, 0, req.Attempt)
	assert.Equal(t, []string{"export.enqueued"}, auditEvents(req.Audit))

	require.Len(t, publisher.messages, 1)
	assert.Equal(t, Message{ID: req.ID, Type: TypeExport, SubmittedAt: reviewNow}, publisher.messages[0])

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "ticket 42", stored.Note)
	assert.Len(t, docs.All(store.ContainerAuditLogs), 1)
}

func TestEnqueueValidatesInput(t *testing.T) {
	svc := newTestService(storetest.NewMemory(), &fakePublisher{})

	_, err := svc.EnqueueDelete(context.Background(), EnqueueInput{UserID: "u1", RequestedBy: "admin"})
	assert.True(t, IsKind(err, KindValidation))

	_, err = svc.EnqueueDelete(context.Background(), EnqueueInput{UserID: "user-1"})
	assert.True(t, IsKind(err, KindValidation))
}

func TestEnqueueReportsPublishFailure(t *testing.T) {
	docs := storetest.NewMemory()
	publisher := &fakePublisher{enqueueFn: func(context.Context, Message) error { return errors.New("redis down") }}
	svc := newTestService(docs, publisher)

	req, err := svc.EnqueueDelete(context.Background(), EnqueueInput{UserID: "user-1", RequestedBy: "admin"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInternal))
	assert.NotEmpty(t, req.ID, "the request stays queued so an operator can cancel and retry it")
}

func TestRetryRequeuesFailedRequest(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	publisher := &fakePublisher{}
	svc := newTestService(docs, publisher)
	seedRequest(t, docs, Request{ID: "dsr_1", Type: TypeDelete, Status: StatusFailed, Attempt: 2, FailureReason: "boom"})

	updated, err := svc.Retry(ctx, "dsr_1", "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, updated.Status)
	assert.Empty(t, updated.FailureReason)
	assert.Equal(t, 2, updated.Attempt, "retry does not count as a dispatch")
	require.Len(t, publisher.messages, 1)
	assert.Equal(t, TypeDelete, publisher.messages[0].Type)
}

func TestRetryRejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	publisher := &fakePublisher{}
	svc := newTestService(docs, publisher)
	seedRequest(t, docs, Request{ID: "dsr_1", Status: StatusRunning})

	_, err := svc.Retry(ctx, "dsr_1", "admin")
	assert.True(t, HasCode(err, CodeInvalidState))
	assert.Empty(t, publisher.messages)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	svc := newTestService(docs, &fakePublisher{})
	seedRequest(t, docs, Request{ID: "dsr_1", Status: StatusQueued})
	seedRequest(t, docs, Request{ID: "dsr_2", Status: StatusAwaitingReview})

	updated, err := svc.Cancel(ctx, "dsr_1", "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, updated.Status)
	assert.Equal(t, []string{"export.canceled"}, auditEvents(updated.Audit))

	_, err = svc.Cancel(ctx, "dsr_2", "admin")
	assert.True(t, HasCode(err, CodeInvalidState))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
