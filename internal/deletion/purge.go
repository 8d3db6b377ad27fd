package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"privacy/api/internal/logging"
	"privacy/api/internal/metrics"
	"privacy/api/internal/store"
)

const (
	DefaultPurgeWindow    = 90 * 24 * time.Hour
	DefaultPurgeBatchSize = 100
)

type PurgeOptions struct {
	Window    time.Duration
	BatchSize int
	Buckets   []Bucket
}

// Purger hard-deletes soft-deleted records once they are older than the
// purge window. Records under an active hold are left in place.
type Purger struct {
	docs      store.Documents
	holds     HoldChecker
	window    time.Duration
	batchSize int
	buckets   []Bucket
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewPurger(docs store.Documents, holds HoldChecker, opts PurgeOptions, m *metrics.Metrics, logger zerolog.Logger) *Purger {
	p := &Purger{
		docs:      docs,
		holds:     holds,
		window:    opts.Window,
		batchSize: opts.BatchSize,
		buckets:   opts.Buckets,
		metrics:   m,
		logger:    logging.Component(logger, "purge"),
		now:       time.Now,
	}
	if p.window <= 0 {
		p.window = DefaultPurgeWindow
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultPurgeBatchSize
	}
	if len(p.buckets) == 0 {
		p.buckets = SoftDeleteBuckets
	}
	return p
}

// Run sweeps every bucket once, oldest first in batches. A failing record or
// bucket is reported and the sweep continues.
func (p *Purger) Run(ctx context.Context) Report {
	at := p.now().UTC()
	cutoff := at.Add(-p.window)
	report := newReport("", "purge", at)

	for _, bucket := range p.buckets {
		if err := p.sweep(ctx, bucket, cutoff, &report); err != nil {
			report.bucketFailed(bucket.Container, err)
		}
	}

	observeReport(p.metrics, "purge", report)
	p.logger.Info().
		Str("event", "dsr.purge.completed").
		Time("cutoff", cutoff).
		Strs("buckets", report.BucketNames()).
		Int("deleted", report.Total(OutcomeDeleted)).
		Int("skipped_hold", report.Total(OutcomeHeld)).
		Int("errors", len(report.Errors)).
		Msg("purge sweep completed")
	return report
}

func (p *Purger) sweep(ctx context.Context, bucket Bucket, cutoff time.Time, report *Report) error {
	// Records left behind (held or failed) stay in the result set, so the
	// offset advances past them.
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := p.docs.Query(ctx, bucket.Container, store.Query{
			Where:  []store.Cond{store.Eq("deleted", true), store.Before("deletedAt", cutoff)},
			SortBy: "deletedAt",
			Offset: offset,
			Limit:  p.batchSize,
		})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, rec := range records {
			outcome, err := p.purgeOne(ctx, bucket, rec)
			report.record(bucket.Container, rec.ID(), outcome, err)
			if outcome != OutcomeDeleted {
				offset++
			}
		}
		if len(records) < p.batchSize {
			return nil
		}
	}
}

func (p *Purger) purgeOne(ctx context.Context, bucket Bucket, rec store.Record) (Outcome, error) {
	if bucket.HoldScope != "" {
		held, err := p.holds.HasHold(ctx, bucket.HoldScope, rec.ID())
		if err != nil {
			return OutcomeFailed, fmt.Errorf("check hold: %w", err)
		}
		if held {
			return OutcomeHeld, nil
		}
	}
	// Already gone counts as deleted: it left the result set either way.
	if err := p.docs.Delete(ctx, bucket.Container, rec.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return OutcomeFailed, err
	}
	return OutcomeDeleted, nil
}
