package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacy/api/internal/dsr"
)

type fakeHandler struct {
	handleFn func(context.Context, any) (Outcome, error)
}

func (f *fakeHandler) Handle(ctx context.Context, payload any) (Outcome, error) {
	return f.handleFn(ctx, payload)
}

func TestConsumerAcksFinishedMessages(t *testing.T) {
	ctx := context.Background()
	q, s := setupTestQueue(t, 5)
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeDelete}))

	var seen []string
	handler := &fakeHandler{handleFn: func(_ context.Context, payload any) (Outcome, error) {
		msg, err := ParseMessage(payload)
		require.NoError(t, err)
		seen = append(seen, msg.ID)
		return OutcomeSkipped, nil
	}}
	c := NewConsumer(q, handler, ConsumerOptions{PollTimeout: time.Second, DeferBackoff: time.Millisecond}, zerolog.Nop())

	outcome, err := c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, []string{"dsr_1"}, seen)
	assert.False(t, s.Exists("dsr-requests"))
	assert.False(t, s.Exists("dsr-requests:processing"))
}

func TestConsumerRequeuesDeferredMessages(t *testing.T) {
	ctx := context.Background()
	q, _ := setupTestQueue(t, 5)
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeExport}))

	handler := &fakeHandler{handleFn: func(context.Context, any) (Outcome, error) {
		return OutcomeDeferred, nil
	}}
	c := NewConsumer(q, handler, ConsumerOptions{PollTimeout: time.Second, DeferBackoff: time.Millisecond}, zerolog.Nop())

	outcome, err := c.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	pending, err := q.PendingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestConsumerDeferralsDoNotSpendDeliveries(t *testing.T) {
	ctx := context.Background()
	q, _ := setupTestQueue(t, 3)
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeExport}))

	handler := &fakeHandler{handleFn: func(context.Context, any) (Outcome, error) {
		return OutcomeDeferred, nil
	}}
	c := NewConsumer(q, handler, ConsumerOptions{PollTimeout: time.Second, DeferBackoff: time.Millisecond}, zerolog.Nop())

	for i := 0; i < 6; i++ {
		outcome, err := c.ProcessOne(ctx)
		require.NoError(t, err, "round %d", i+1)
		assert.Equal(t, OutcomeDeferred, outcome)
	}

	pending, err := q.PendingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestConsumerDeadLettersRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	q, _ := setupTestQueue(t, 2)
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeExport}))

	handler := &fakeHandler{handleFn: func(context.Context, any) (Outcome, error) {
		return OutcomeFailed, assert.AnError
	}}
	c := NewConsumer(q, handler, ConsumerOptions{PollTimeout: 10 * time.Millisecond, DeferBackoff: time.Millisecond}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		outcome, err := c.ProcessOne(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
	}
	_, err := c.ProcessOne(ctx)
	require.ErrorIs(t, err, ErrEmpty)

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	q, _ := setupTestQueue(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan string, 1)
	handler := &fakeHandler{handleFn: func(_ context.Context, payload any) (Outcome, error) {
		msg, _ := ParseMessage(payload)
		handled <- msg.ID
		return OutcomeProcessed, nil
	}}
	c := NewConsumer(q, handler, ConsumerOptions{Workers: 1, PollTimeout: time.Second, DeferBackoff: time.Millisecond}, zerolog.Nop())
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeDelete}))

	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	select {
	case id := <-handled:
		assert.Equal(t, "dsr_1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not handled")
	}
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
