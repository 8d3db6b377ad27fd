package dsr

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"privacy/api/internal/logging"
	"privacy/api/internal/util"
)

// Publisher hands a message to the request queue.
type Publisher interface {
	Enqueue(ctx context.Context, msg Message) error
}

type EnqueueInput struct {
	UserID      string `validate:"required,min=3"`
	RequestedBy string `validate:"required"`
	Note        string `validate:"max=500"`
}

// Service is the admin-facing surface of the DSR subsystem. Authorization is
// the caller's job.
type Service struct {
	requests  *RequestStore
	holds     *HoldRegistry
	workflow  *Workflow
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(requests *RequestStore, holds *HoldRegistry, workflow *Workflow, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{
		requests:  requests,
		holds:     holds,
		workflow:  workflow,
		publisher: publisher,
		logger:    logging.Component(logger, "dsr"),
		now:       time.Now,
	}
}

func (s *Service) EnqueueExport(ctx context.Context, input EnqueueInput) (Request, error) {
	return s.enqueue(ctx, TypeExport, input)
}

func (s *Service) EnqueueDelete(ctx context.Context, input EnqueueInput) (Request, error) {
	return s.enqueue(ctx, TypeDelete, input)
}

func (s *Service) enqueue(ctx context.Context, kind Type, input EnqueueInput) (Request, error) {
	if err := validate.Struct(input); err != nil {
		return Request{}, ValidationError(CodeInvalidRequest, err.Error())
	}

	now := s.now().UTC()
	var meta map[string]any
	if input.Note != "" {
		meta = map[string]any{"note": input.Note}
	}
	req := Request{
		ID:          util.NewID("dsr"),
		Type:        kind,
		UserID:      input.UserID,
		RequestedBy: input.RequestedBy,
		RequestedAt: now,
		Status:      StatusQueued,
		Note:        input.Note,
		Audit:       []AuditEntry{NewAuditEntry(now, input.RequestedBy, string(kind)+".enqueued", meta)},
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return Request{}, err
	}
	if err := s.publish(ctx, req, now); err != nil {
		return req, err
	}

	s.logger.Info().
		Str("event", "dsr."+string(kind)+".enqueued").
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Msg("request enqueued")
	return req, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.requests.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	return s.requests.List(ctx, filter)
}

// Retry resets a failed or canceled request to queued and re-enqueues it.
func (s *Service) Retry(ctx context.Context, id, by string) (Request, error) {
	current, err := s.requests.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !Retryable(current.Status) {
		return current, ConflictError(CodeInvalidState, "only failed or canceled requests can be retried", map[string]any{"status": current.Status})
	}

	now := s.now().UTC()
	queued := StatusQueued
	cleared := ""
	entry := NewAuditEntry(now, by, string(current.Type)+".retried", map[string]any{"from": current.Status})
	updated, err := s.requests.Patch(ctx, id, Patch{Status: &queued, FailureReason: &cleared}, &entry)
	if err != nil {
		return current, err
	}
	if err := s.publish(ctx, updated, now); err != nil {
		return updated, err
	}
	return updated, nil
}

// Cancel stops a request that has not finished. A running worker finishes its
// current pass but cannot move the request out of canceled.
func (s *Service) Cancel(ctx context.Context, id, by string) (Request, error) {
	current, err := s.requests.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !Cancelable(current.Status) {
		return current, ConflictError(CodeInvalidState, "only queued or running requests can be canceled", map[string]any{"status": current.Status})
	}

	canceled := StatusCanceled
	entry := NewAuditEntry(s.now(), by, string(current.Type)+".canceled", map[string]any{"from": current.Status})
	return s.requests.Patch(ctx, id, Patch{Status: &canceled}, &entry)
}

func (s *Service) ReviewA(ctx context.Context, id string, input ReviewInput) (Request, error) {
	return s.workflow.SubmitReview(ctx, id, ReviewerA, input)
}

func (s *Service) ReviewB(ctx context.Context, id string, input ReviewInput) (Request, error) {
	return s.workflow.SubmitReview(ctx, id, ReviewerB, input)
}

func (s *Service) Release(ctx context.Context, id, by string) (Download, error) {
	return s.workflow.Release(ctx, id, by)
}

func (s *Service) Download(ctx context.Context, id, by string) (Download, error) {
	return s.workflow.Download(ctx, id, by)
}

func (s *Service) PlaceHold(ctx context.Context, input PlaceHoldInput) (Hold, error) {
	return s.holds.Place(ctx, input)
}

func (s *Service) ClearHold(ctx context.Context, id, by string) (Hold, error) {
	return s.holds.Clear(ctx, id, by)
}

func (s *Service) ListHolds(ctx context.Context, scopeID string) ([]Hold, error) {
	return s.holds.List(ctx, scopeID)
}

func (s *Service) publish(ctx context.Context, req Request, at time.Time) error {
	if err := s.publisher.Enqueue(ctx, Message{ID: req.ID, Type: req.Type, SubmittedAt: at}); err != nil {
		s.logger.Error().Err(err).
			Str("event", "dsr.queue.enqueue_failed").
			Str("request_id", req.ID).
			Msg("failed to enqueue request")
		return InternalError("enqueue request", err)
	}
	return nil
}
