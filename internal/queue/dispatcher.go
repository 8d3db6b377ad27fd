package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"privacy/api/internal/dsr"
	"privacy/api/internal/logging"
	"privacy/api/internal/metrics"
)

// Outcome of handling one delivery.
type Outcome string

const (
	// OutcomeProcessed means a worker ran; its own failure is recorded on the
	// request.
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped means the request is not in a runnable status.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDropped means the message can never be processed.
	OutcomeDropped Outcome = "dropped"
	// OutcomeDeferred means the export ceiling was reached; nothing changed.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeFailed means the message should be delivered again.
	OutcomeFailed Outcome = "failed"
)

// Redeliver reports whether the message goes back on the queue.
func (o Outcome) Redeliver() bool {
	return o == OutcomeDeferred || o == OutcomeFailed
}

// RequestLoader reads requests by id.
type RequestLoader interface {
	Get(ctx context.Context, id string) (dsr.Request, error)
}

// Runner executes one attempt of a request.
type Runner interface {
	Run(ctx context.Context, req dsr.Request) error
}

// Dispatcher routes deliveries to workers. Re-delivery is safe because only
// requests in a runnable status reach a worker.
type Dispatcher struct {
	requests    RequestLoader
	exports     Runner
	deletes     Runner
	exportSlots *semaphore.Weighted
	maxExports  int64
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewDispatcher creates a dispatcher allowing at most maxExports concurrent
// export runs in this process.
func NewDispatcher(requests RequestLoader, exports, deletes Runner, maxExports int64, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	if maxExports <= 0 {
		maxExports = 5
	}
	return &Dispatcher{
		requests:    requests,
		exports:     exports,
		deletes:     deletes,
		exportSlots: semaphore.NewWeighted(maxExports),
		maxExports:  maxExports,
		metrics:     m,
		logger:      logging.Component(logger, "dispatcher"),
	}
}

// Handle processes one payload. The returned error is set for failed
// outcomes only.
func (d *Dispatcher) Handle(ctx context.Context, payload any) (Outcome, error) {
	msg, err := ParseMessage(payload)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("event", "dsr.queue.invalid").
			Msg("dropping malformed message")
		d.metrics.ObserveDispatch("unknown", string(OutcomeDropped))
		return OutcomeDropped, nil
	}

	outcome, err := d.dispatch(ctx, msg)
	d.metrics.ObserveDispatch(string(msg.Type), string(outcome))
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, msg dsr.Message) (Outcome, error) {
	req, err := d.requests.Get(ctx, msg.ID)
	if dsr.IsKind(err, dsr.KindNotFound) {
		d.logger.Warn().
			Str("event", "dsr.queue.missing_request").
			Str("request_id", msg.ID).
			Msg("request not found")
		return OutcomeDropped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load request %s: %w", msg.ID, err)
	}

	if !dsr.Runnable(req.Status) {
		d.logger.Info().
			Str("event", "dsr.queue.skipped_status").
			Str("request_id", req.ID).
			Str("status", string(req.Status)).
			Msg("request not runnable")
		return OutcomeSkipped, nil
	}

	if msg.Type.Valid() && msg.Type != req.Type {
		d.logger.Warn().
			Str("event", "dsr.queue.type_mismatch").
			Str("request_id", req.ID).
			Str("message_type", string(msg.Type)).
			Str("request_type", string(req.Type)).
			Msg("message type does not match request")
		return OutcomeDropped, nil
	}

	switch msg.Type {
	case dsr.TypeExport:
		return d.runExport(ctx, req)
	case dsr.TypeDelete:
		return d.run(ctx, d.deletes, req)
	default:
		d.logger.Warn().
			Str("event", "dsr.queue.unknown_type").
			Str("request_id", req.ID).
			Str("type", string(msg.Type)).
			Msg("unknown request type")
		return OutcomeDropped, nil
	}
}

func (d *Dispatcher) runExport(ctx context.Context, req dsr.Request) (Outcome, error) {
	if !d.exportSlots.TryAcquire(1) {
		d.logger.Info().
			Str("event", "dsr.queue.export_rate_limit").
			Str("request_id", req.ID).
			Int64("max", d.maxExports).
			Msg("export ceiling reached, deferring")
		return OutcomeDeferred, nil
	}
	defer d.exportSlots.Release(1)

	d.metrics.ExportStarted()
	defer d.metrics.ExportFinished()
	return d.run(ctx, d.exports, req)
}

func (d *Dispatcher) run(ctx context.Context, runner Runner, req dsr.Request) (Outcome, error) {
	if err := runner.Run(ctx, req); err != nil {
		d.logger.Error().Err(err).
			Str("event", "dsr.queue.worker_failed").
			Str("request_id", req.ID).
			Str("type", string(req.Type)).
			Msg("worker failed")
		return OutcomeFailed, err
	}
	return OutcomeProcessed, nil
}
