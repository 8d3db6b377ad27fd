// Package cooldown limits how often an action may run per key.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldown allows one action per key per window, tracked with SET NX.
type RedisCooldown struct {
	client *redis.Client
	prefix string
	window time.Duration
	now    func() time.Time
}

// Decision reports whether an action may proceed and, when it may not, when
// the current window ends.
type Decision struct {
	Allowed bool
	ResetAt time.Time
}

// NewRedisCooldownWithClient creates a cooldown on an existing Redis client.
func NewRedisCooldownWithClient(client *redis.Client, prefix string, window time.Duration) *RedisCooldown {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisCooldown{
		client: client,
		prefix: prefix,
		window: window,
		now:    time.Now,
	}
}

func (c *RedisCooldown) key(subject string) string {
	return c.prefix + subject
}

// Acquire claims the window for subject. Only the first call in a window is
// allowed.
func (c *RedisCooldown) Acquire(ctx context.Context, subject string) (Decision, error) {
	key := c.key(subject)
	now := c.now()
	ok, err := c.client.SetNX(ctx, key, now.UTC().Format(time.RFC3339Nano), c.window).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("acquire cooldown: %w", err)
	}
	if ok {
		return Decision{Allowed: true, ResetAt: now.Add(c.window)}, nil
	}

	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("read cooldown ttl: %w", err)
	}
	if ttl < 0 {
		ttl = c.window
	}
	return Decision{Allowed: false, ResetAt: now.Add(ttl)}, nil
}
