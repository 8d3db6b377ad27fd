package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacy/api/internal/dsr"
)

func setupTestQueue(t *testing.T, maxDeliveries int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "dsr-requests", maxDeliveries), s
}

func TestEnqueueReceiveAck(t *testing.T) {
	q, s := setupTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeExport}))
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_2", Type: dsr.TypeDelete}))

	first, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)
	msg, err := ParseMessage(first.Payload)
	require.NoError(t, err)
	assert.Equal(t, "dsr_1", msg.ID, "oldest message first")

	processing, err := s.List("dsr-requests:processing")
	require.NoError(t, err)
	assert.Equal(t, []string{first.Payload}, processing)

	require.NoError(t, q.Ack(ctx, first))
	assert.False(t, s.Exists("dsr-requests:processing"))
	assert.False(t, s.Exists("dsr-requests:deliveries"))

	pending, err := q.PendingLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestNackRedelivers(t *testing.T) {
	q, _ := setupTestQueue(t, 3)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeExport}))

	d, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d))

	again, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, d.Payload, again.Payload)
	assert.Equal(t, 2, again.Attempt)
}

func TestRequeueKeepsDeliveryCount(t *testing.T) {
	q, s := setupTestQueue(t, 3)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeExport}))

	d, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Requeue(ctx, d))
	assert.False(t, s.Exists("dsr-requests:processing"))

	again, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, d.Payload, again.Payload)
	assert.Equal(t, 1, again.Attempt)
}

func TestReceiveDeadLettersAfterMaxDeliveries(t *testing.T) {
	q, _ := setupTestQueue(t, 2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeDelete}))

	for i := 0; i < 2; i++ {
		d, err := q.Receive(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, q.Nack(ctx, d))
	}

	_, err := q.Receive(ctx, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	msg, err := ParseMessage(dead[0])
	require.NoError(t, err)
	assert.Equal(t, "dsr_1", msg.ID)
}

func TestRecoverReturnsInFlightMessages(t *testing.T) {
	q, _ := setupTestQueue(t, 5)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, dsr.Message{ID: "dsr_1", Type: dsr.TypeExport}))
	_, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	d, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Attempt)
}

func TestReceiveEmpty(t *testing.T) {
	q, _ := setupTestQueue(t, 5)
	_, err := q.Receive(context.Background(), 100*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}
