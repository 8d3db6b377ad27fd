package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"privacy/api/internal/logging"
)

// Handler processes one payload.
type Handler interface {
	Handle(ctx context.Context, payload any) (Outcome, error)
}

type ConsumerOptions struct {
	// Workers is the number of deliveries handled in parallel.
	Workers int
	// PollTimeout bounds each blocking receive.
	PollTimeout time.Duration
	// DeferBackoff is slept after a message is put back on the queue.
	DeferBackoff time.Duration
}

// Consumer drives a Handler from a RedisQueue, acking finished messages and
// returning the rest for redelivery.
type Consumer struct {
	queue   *RedisQueue
	handler Handler
	opts    ConsumerOptions
	logger  zerolog.Logger
}

func NewConsumer(queue *RedisQueue, handler Handler, opts ConsumerOptions, logger zerolog.Logger) *Consumer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.DeferBackoff <= 0 {
		opts.DeferBackoff = 2 * time.Second
	}
	return &Consumer{
		queue:   queue,
		handler: handler,
		opts:    opts,
		logger:  logging.Component(logger, "consumer"),
	}
}

// Run recovers in-flight messages, then consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	recovered, err := c.queue.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		c.logger.Info().Int("count", recovered).Msg("recovered in-flight messages")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.Workers; i++ {
		g.Go(func() error { return c.loop(gctx) })
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.ProcessOne(ctx); err != nil && !errors.Is(err, ErrEmpty) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("queue receive failed")
			if !sleep(ctx, c.opts.DeferBackoff) {
				return ctx.Err()
			}
		}
	}
}

// ProcessOne receives and handles a single delivery. It returns ErrEmpty
// when nothing arrived within the poll timeout.
func (c *Consumer) ProcessOne(ctx context.Context) (Outcome, error) {
	delivery, err := c.queue.Receive(ctx, c.opts.PollTimeout)
	if err != nil {
		return "", err
	}

	outcome, handleErr := c.handler.Handle(ctx, delivery.Payload)
	if !outcome.Redeliver() {
		if err := c.queue.Ack(context.WithoutCancel(ctx), delivery); err != nil {
			return outcome, err
		}
		return outcome, nil
	}

	putBack := c.queue.Nack
	if outcome == OutcomeDeferred {
		putBack = c.queue.Requeue
	}
	if err := putBack(context.WithoutCancel(ctx), delivery); err != nil {
		return outcome, err
	}
	c.logger.Debug().Err(handleErr).
		Str("outcome", string(outcome)).
		Int("attempt", delivery.Attempt).
		Msg("message returned for redelivery")
	if outcome == OutcomeDeferred {
		sleep(ctx, c.opts.DeferBackoff)
	}
	return outcome, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
