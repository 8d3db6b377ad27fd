package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"privacy/api/internal/deletion"
	"privacy/api/internal/dsr"
	"privacy/api/internal/export"
	"privacy/api/internal/metrics"
	"privacy/api/internal/queue"
	"privacy/api/internal/redact"
	"privacy/api/internal/store"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := store.Open(ctx, c.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(ctx, db, c.cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			c.logger.Info().Strs("applied", applied).Msg("migrations applied")
			return printJSON(cmd.OutOrStdout(), map[string]any{"applied": applied})
		},
	}
}

func (c *cli) workerCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the request queue and run the purge schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.withDeps(cmd, func(_ context.Context, d *deps) error {
				return c.runWorker(ctx, d, workers)
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel queue consumers (default: export concurrency + 2)")
	return cmd
}

func (c *cli) runWorker(ctx context.Context, d *deps, workers int) error {
	if err := d.objects.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("export bucket: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	requests := dsr.NewRequestStore(d.docs)
	holds := dsr.NewHoldRegistry(d.docs, c.logger)
	exports := export.NewWorker(requests, d.docs, d.identity, d.objects, redact.New(c.cfg.RedactionSalt), export.Options{
		Environment: c.cfg.Environment,
		MediaURLTTL: c.cfg.SignedURLTTL,
	}, m, c.logger)
	deletes := deletion.NewWorker(requests, d.docs, holds, m, c.logger)
	dispatcher := queue.NewDispatcher(requests, exports, deletes, int64(c.cfg.MaxConcurrency), m, c.logger)

	if workers <= 0 {
		// Room for deletes while every export slot is taken.
		workers = c.cfg.MaxConcurrency + 2
	}
	consumer := queue.NewConsumer(d.queue, dispatcher, queue.ConsumerOptions{Workers: workers}, c.logger)

	purger := deletion.NewPurger(d.docs, holds, c.purgeOptions(), m, c.logger)
	scheduler := deletion.NewScheduler(purger, c.cfg.PurgeCron, c.logger)
	if err := scheduler.Start(); err != nil {
		return err
	}

	var server *http.Server
	if strings.TrimSpace(c.cfg.MetricsAddr) != "" {
		server = &http.Server{
			Addr:              c.cfg.MetricsAddr,
			Handler:           metrics.Handler(registry),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			c.logger.Info().Str("addr", c.cfg.MetricsAddr).Msg("metrics listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	c.logger.Info().
		Str("queue", c.cfg.QueueName).
		Int("workers", workers).
		Int("max_exports", c.cfg.MaxConcurrency).
		Str("purge_cron", c.cfg.PurgeCron).
		Msg("worker started")
	runErr := consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		c.logger.Warn().Err(err).Msg("purge scheduler shutdown")
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn().Err(err).Msg("metrics shutdown")
		}
	}
	c.logger.Info().Msg("worker stopped")
	return runErr
}

func (c *cli) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run one purge sweep over soft-deleted records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *deps) error {
				report := c.purger(d).Run(ctx)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return report.Err()
			})
		},
	}
}
