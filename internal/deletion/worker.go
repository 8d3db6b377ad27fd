package deletion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"privacy/api/internal/dsr"
	"privacy/api/internal/logging"
	"privacy/api/internal/metrics"
	"privacy/api/internal/store"
)

// HoldReason is the failure reason recorded when a user hold blocks a delete.
const HoldReason = "Delete blocked: active legal hold"

// Requests is the part of the request store the worker writes through.
type Requests interface {
	Patch(ctx context.Context, id string, patch dsr.Patch, entry *dsr.AuditEntry) (dsr.Request, error)
}

// Worker soft-deletes a user's records for a queued delete request. Records
// are only flagged; the purge job removes them later.
type Worker struct {
	requests Requests
	docs     store.Documents
	holds    HoldChecker
	buckets  []Bucket
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewWorker(requests Requests, docs store.Documents, holds HoldChecker, m *metrics.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		requests: requests,
		docs:     docs,
		holds:    holds,
		buckets:  SoftDeleteBuckets,
		metrics:  m,
		logger:   logging.Component(logger, "delete"),
		now:      time.Now,
	}
}

// Run executes one delete attempt. A user hold ends the request failed
// without touching any record and is not reported as an error.
func (w *Worker) Run(ctx context.Context, req dsr.Request) (err error) {
	started := w.now().UTC()
	defer func() { w.metrics.ObserveJob(string(dsr.TypeDelete), started, err) }()

	running := dsr.StatusRunning
	entry := dsr.NewAuditEntry(started, "system", "delete.started", nil)
	if _, err := w.requests.Patch(ctx, req.ID, dsr.Patch{Status: &running, IncrementAttempt: true, StartedAt: &started}, &entry); err != nil {
		return fmt.Errorf("start delete %s: %w", req.ID, err)
	}

	held, err := w.holds.HasHold(ctx, dsr.HoldScopeUser, req.UserID)
	if err != nil {
		return w.fail(ctx, req.ID, fmt.Errorf("check user hold: %w", err))
	}
	if held {
		return w.blocked(ctx, req)
	}

	report, err := w.mark(ctx, req)
	if err != nil {
		return w.fail(ctx, req.ID, err)
	}

	completed := w.now().UTC()
	succeeded := dsr.StatusSucceeded
	cleared := ""
	entry = dsr.NewAuditEntry(completed, "system", "delete.succeeded", report.summary())
	_, err = w.requests.Patch(ctx, req.ID, dsr.Patch{Status: &succeeded, CompletedAt: &completed, FailureReason: &cleared}, &entry)
	if dsr.HasCode(err, dsr.CodeInvalidTransition) {
		w.logger.Warn().
			Str("event", "dsr.delete.canceled").
			Str("request_id", req.ID).
			Int("marked", report.Total(OutcomeMarked)).
			Msg("delete finished after cancel")
		return nil
	}
	if err != nil {
		return w.fail(ctx, req.ID, err)
	}

	for _, itemErr := range report.Errors {
		w.logger.Warn().Err(itemErr.Err).
			Str("event", "dsr.delete.item_failed").
			Str("request_id", req.ID).
			Str("bucket", itemErr.Bucket).
			Str("item_id", itemErr.ItemID).
			Msg("record not marked")
	}
	w.logger.Info().
		Str("event", "dsr.delete.succeeded").
		Str("request_id", req.ID).
		Int("marked", report.Total(OutcomeMarked)).
		Int("skipped_hold", report.Total(OutcomeHeld)).
		Int("errors", len(report.Errors)).
		Msg("delete completed")
	return nil
}

func (w *Worker) blocked(ctx context.Context, req dsr.Request) error {
	reason := HoldReason
	failed := dsr.StatusFailed
	completed := w.now().UTC()
	entry := dsr.NewAuditEntry(completed, "system", "delete.hold", map[string]any{"reason": reason})
	if _, err := w.requests.Patch(ctx, req.ID, dsr.Patch{Status: &failed, FailureReason: &reason, CompletedAt: &completed}, &entry); err != nil {
		return fmt.Errorf("record hold on %s: %w", req.ID, err)
	}
	w.logger.Warn().
		Str("event", "dsr.delete.hold").
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Msg(reason)
	return nil
}

func (w *Worker) fail(ctx context.Context, id string, cause error) error {
	reason := cause.Error()
	failed := dsr.StatusFailed
	completed := w.now().UTC()
	entry := dsr.NewAuditEntry(completed, "system", "delete.failed", map[string]any{"reason": reason})
	if _, err := w.requests.Patch(ctx, id, dsr.Patch{Status: &failed, FailureReason: &reason, CompletedAt: &completed}, &entry); err != nil {
		w.logger.Error().Err(err).
			Str("event", "dsr.delete.fail_patch").
			Str("request_id", id).
			Msg("could not record delete failure")
	}
	w.logger.Error().Err(cause).
		Str("event", "dsr.delete.failed").
		Str("request_id", id).
		Msg("delete failed")
	return cause
}

// mark flags every matching record as deleted. Per-record failures are
// folded into the report; a bucket that cannot be queried aborts the run.
func (w *Worker) mark(ctx context.Context, req dsr.Request) (Report, error) {
	deletedAt := w.now().UTC().Format(time.RFC3339Nano)
	deletedBy := "dsr:" + req.ID
	report := newReport(req.UserID, deletedBy, w.now().UTC())

	for _, bucket := range w.buckets {
		records, err := w.docs.Query(ctx, bucket.Container, bucket.userQuery(req.UserID))
		if err != nil {
			return report, fmt.Errorf("query %s: %w", bucket.Container, err)
		}
		for _, rec := range records {
			if rec.Bool("deleted") {
				continue
			}
			outcome, err := w.markOne(ctx, bucket, rec, deletedAt, deletedBy)
			report.record(bucket.Container, rec.ID(), outcome, err)
		}
	}
	observeReport(w.metrics, "delete", report)
	return report, nil
}

func (w *Worker) markOne(ctx context.Context, bucket Bucket, rec store.Record, deletedAt, deletedBy string) (Outcome, error) {
	if bucket.HoldScope != "" {
		held, err := w.holds.HasHold(ctx, bucket.HoldScope, rec.ID())
		if err != nil {
			return OutcomeFailed, fmt.Errorf("check hold: %w", err)
		}
		if held {
			return OutcomeHeld, nil
		}
	}
	marked := rec.Clone()
	marked["deleted"] = true
	marked["deletedAt"] = deletedAt
	marked["deletedBy"] = deletedBy
	if err := w.docs.Replace(ctx, bucket.Container, marked, 0); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeMarked, nil
}

func observeReport(m *metrics.Metrics, job string, report Report) {
	for _, name := range report.BucketNames() {
		counts := report.Buckets[name]
		m.AddBatchItems(job, name, string(OutcomeDeleted), counts.Deleted)
		m.AddBatchItems(job, name, string(OutcomeAnonymized), counts.Anonymized)
		m.AddBatchItems(job, name, string(OutcomeMarked), counts.Marked)
		m.AddBatchItems(job, name, string(OutcomeHeld), counts.SkippedForHold)
		m.AddBatchItems(job, name, string(OutcomeFailed), counts.Failed)
	}
}
