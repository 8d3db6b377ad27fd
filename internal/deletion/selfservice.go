package deletion

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"privacy/api/internal/cooldown"
	"privacy/api/internal/dsr"
	"privacy/api/internal/logging"
	"privacy/api/internal/store"
	"privacy/api/internal/util"
)

// Limiter grants at most one self-service delete per user per window.
type Limiter interface {
	Acquire(ctx context.Context, subject string) (cooldown.Decision, error)
}

// Cascader runs the immediate cascade for one user.
type Cascader interface {
	Run(ctx context.Context, userID, deletedBy string) (Report, error)
}

// SelfService lets a signed-in user erase their own account immediately.
type SelfService struct {
	cascade Cascader
	limiter Limiter
	docs    store.Documents
	logger  zerolog.Logger
	now     func() time.Time
}

func NewSelfService(cascade Cascader, limiter Limiter, docs store.Documents, logger zerolog.Logger) *SelfService {
	return &SelfService{
		cascade: cascade,
		limiter: limiter,
		docs:    docs,
		logger:  logging.Component(logger, "self_delete"),
		now:     time.Now,
	}
}

// Delete requires explicit confirmation, is rate limited per user, runs the
// cascade and records the outcome in the privacy audit container.
func (s *SelfService) Delete(ctx context.Context, userID string, confirmed bool) (Report, error) {
	if userID == "" {
		return Report{}, dsr.ValidationError(dsr.CodeInvalidRequest, "userId is required")
	}
	if !confirmed {
		return Report{}, dsr.ValidationError(dsr.CodeConfirmationRequired, "account deletion must be explicitly confirmed")
	}

	decision, err := s.limiter.Acquire(ctx, userID)
	if err != nil {
		return Report{}, dsr.InternalError("check delete cooldown", err)
	}
	if !decision.Allowed {
		return Report{}, dsr.RateLimitError("account deletion is limited, try again later", map[string]any{"resetAt": decision.ResetAt.UTC()})
	}

	report, err := s.cascade.Run(ctx, userID, "self:"+userID)
	result := "success"
	if err != nil {
		result = "failure"
	}
	s.recordAudit(ctx, userID, result)

	event := logging.Audit(s.logger).
		Str("event", "dsr.self_delete."+result).
		Str("user_id", userID).
		Int("deleted", report.Total(OutcomeDeleted)).
		Int("anonymized", report.Total(OutcomeAnonymized)).
		Int("errors", len(report.Errors))
	if err != nil {
		event.Err(err).Msg("self-service delete failed")
		return report, err
	}
	event.Msg("self-service delete completed")
	return report, nil
}

func (s *SelfService) recordAudit(ctx context.Context, userID, result string) {
	rec := store.Record{
		"id":        util.NewID("audit"),
		"userId":    userID,
		"action":    "delete",
		"result":    result,
		"operator":  "self",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.docs.Create(ctx, store.ContainerPrivacyAudit, rec); err != nil {
		s.logger.Error().Err(err).
			Str("event", "dsr.self_delete.audit_failed").
			Str("user_id", userID).
			Msg("could not write privacy audit record")
	}
}
