package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"privacy/api/internal/blob"
	"privacy/api/internal/cooldown"
	"privacy/api/internal/deletion"
	"privacy/api/internal/dsr"
	"privacy/api/internal/export"
	"privacy/api/internal/queue"
	"privacy/api/internal/store"
)

type objectStore interface {
	export.ObjectStore
	EnsureBucket(ctx context.Context) error
}

type identityStore interface {
	export.IdentitySource
	deletion.IdentityStore
}

// deps is the set of backing services a command works against.
type deps struct {
	docs     store.Documents
	identity identityStore
	objects  objectStore
	redis    *redis.Client
	queue    *queue.RedisQueue
	closers  []func() error
}

func (d *deps) Close() error {
	var result *multierror.Error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *cli) openDeps(cmd *cobra.Command) (*deps, error) {
	ctx := cmd.Context()
	d := &deps{}

	db, err := store.Open(ctx, c.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	d.closers = append(d.closers, db.Close)
	d.docs = store.NewPostgresDocuments(db)
	d.identity = store.NewPostgresIdentity(db)

	client, err := openRedis(ctx, c.cfg.RedisURL)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.closers = append(d.closers, client.Close)
	d.redis = client
	d.queue = queue.NewRedisQueue(client, c.cfg.QueueName, c.cfg.MaxDeliveries)

	objects, err := blob.NewMinioStore(blob.Options{
		Endpoint:  c.cfg.ExportEndpoint,
		AccessKey: c.cfg.ExportAccessKey,
		SecretKey: c.cfg.ExportSecretKey,
		UseSSL:    c.cfg.ExportUseSSL,
		Bucket:    c.cfg.ExportBucket,
		Region:    c.cfg.ExportRegion,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.objects = objects
	return d, nil
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (c *cli) service(d *deps) *dsr.Service {
	requests := dsr.NewRequestStore(d.docs)
	holds := dsr.NewHoldRegistry(d.docs, c.logger)
	workflow := dsr.NewWorkflow(requests, d.objects, c.cfg.SignedURLTTL, c.cfg.RetentionDays, c.logger)
	return dsr.NewService(requests, holds, workflow, d.queue, c.logger)
}

func (c *cli) cascade(d *deps) *deletion.Engine {
	holds := dsr.NewHoldRegistry(d.docs, c.logger)
	return deletion.NewEngine(d.docs, holds, d.identity, nil, c.logger)
}

func (c *cli) purger(d *deps) *deletion.Purger {
	holds := dsr.NewHoldRegistry(d.docs, c.logger)
	return deletion.NewPurger(d.docs, holds, c.purgeOptions(), nil, c.logger)
}

func (c *cli) purgeOptions() deletion.PurgeOptions {
	return deletion.PurgeOptions{
		Window:    time.Duration(c.cfg.PurgeWindowDays) * 24 * time.Hour,
		BatchSize: c.cfg.PurgeBatchSize,
	}
}

func (c *cli) selfService(d *deps) *deletion.SelfService {
	limiter := cooldown.NewRedisCooldownWithClient(d.redis, "dsr:self-delete:", c.cfg.SelfDeleteCooldown)
	return deletion.NewSelfService(c.cascade(d), limiter, d.docs, c.logger)
}

// withDeps opens the backing services for the duration of fn.
func (c *cli) withDeps(cmd *cobra.Command, fn func(context.Context, *deps) error) error {
	d, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("closing connections")
		}
	}()
	return fn(cmd.Context(), d)
}
