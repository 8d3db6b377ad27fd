package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"privacy/api/internal/dsr"
)

// ErrEmpty is returned by Receive when no message arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Delivery is one received message. Payload is the raw list element and is
// used to ack or nack it.
type Delivery struct {
	Payload string
	Attempt int
}

// RedisQueue is a reliable list queue: received messages move to a
// processing list until acked, and a per-payload counter dead-letters
// messages delivered too many times.
type RedisQueue struct {
	client        *redis.Client
	pending       string
	processing    string
	deliveries    string
	dead          string
	maxDeliveries int
}

func NewRedisQueue(client *redis.Client, name string, maxDeliveries int) *RedisQueue {
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &RedisQueue{
		client:        client,
		pending:       name,
		processing:    name + ":processing",
		deliveries:    name + ":deliveries",
		dead:          name + ":dead",
		maxDeliveries: maxDeliveries,
	}
}

// Enqueue publishes msg. RedisQueue is the dsr.Publisher used in production.
func (q *RedisQueue) Enqueue(ctx context.Context, msg dsr.Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pending, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.ID, err)
	}
	return nil
}

// Receive waits up to timeout for the next message. Messages past the
// delivery limit are moved to the dead-letter list and skipped.
func (q *RedisQueue) Receive(ctx context.Context, timeout time.Duration) (Delivery, error) {
	for {
		payload, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", timeout).Result()
		if errors.Is(err, redis.Nil) {
			return Delivery{}, ErrEmpty
		}
		if err != nil {
			return Delivery{}, fmt.Errorf("receive: %w", err)
		}

		attempt, err := q.client.HIncrBy(ctx, q.deliveries, payload, 1).Result()
		if err != nil {
			return Delivery{}, fmt.Errorf("count delivery: %w", err)
		}
		if int(attempt) <= q.maxDeliveries {
			return Delivery{Payload: payload, Attempt: int(attempt)}, nil
		}
		if err := q.deadLetter(ctx, payload); err != nil {
			return Delivery{}, err
		}
	}
}

// Ack removes a processed message for good.
func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Payload)
		pipe.HDel(ctx, q.deliveries, d.Payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Nack returns a message to the back of the pending list for redelivery.
func (q *RedisQueue) Nack(ctx context.Context, d Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Payload)
		pipe.LPush(ctx, q.pending, d.Payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	return nil
}

// Requeue returns a message to pending without spending a delivery, for
// messages that were never attempted.
func (q *RedisQueue) Requeue(ctx context.Context, d Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Payload)
		pipe.LPush(ctx, q.pending, d.Payload)
		pipe.HIncrBy(ctx, q.deliveries, d.Payload, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, payload string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, payload)
		pipe.LPush(ctx, q.dead, payload)
		pipe.HDel(ctx, q.deliveries, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}
	return nil
}

// Recover moves messages left in processing by a crashed consumer back to
// pending. Call it before any consumer starts.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover: %w", err)
		}
		moved++
	}
}

func (q *RedisQueue) PendingLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}

// DeadLetters lists dead-lettered payloads, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.dead, 0, -1).Result()
}
