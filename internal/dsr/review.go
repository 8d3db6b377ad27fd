package dsr

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"privacy/api/internal/logging"
)

// URLSigner mints a time-limited read URL for an object path.
type URLSigner interface {
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, time.Time, error)
}

type Reviewer string

const (
	ReviewerA Reviewer = "a"
	ReviewerB Reviewer = "b"
)

type ReviewInput struct {
	By    string `validate:"required"`
	Pass  bool
	Notes string `validate:"max=500"`
}

// Download is returned to the caller only. The URL is never persisted.
type Download struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	URL       string    `json:"downloadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Workflow implements the dual-review gate and release of export archives.
type Workflow struct {
	requests      *RequestStore
	signer        URLSigner
	signedURLTTL  time.Duration
	retentionDays int
	logger        zerolog.Logger
	now           func() time.Time
}

func NewWorkflow(requests *RequestStore, signer URLSigner, signedURLTTL time.Duration, retentionDays int, logger zerolog.Logger) *Workflow {
	return &Workflow{
		requests:      requests,
		signer:        signer,
		signedURLTTL:  signedURLTTL,
		retentionDays: retentionDays,
		logger:        logging.Component(logger, "review"),
		now:           time.Now,
	}
}

// SubmitReview records one reviewer's decision. The request becomes
// ready_to_release only when this pass and the other reviewer's recorded pass
// are both true; a failing review never moves the status back.
func (w *Workflow) SubmitReview(ctx context.Context, id string, reviewer Reviewer, input ReviewInput) (Request, error) {
	if reviewer != ReviewerA && reviewer != ReviewerB {
		return Request{}, ValidationError(CodeInvalidRequest, fmt.Sprintf("unknown reviewer %q", reviewer))
	}
	if err := validate.Struct(input); err != nil {
		return Request{}, ValidationError(CodeInvalidRequest, err.Error())
	}

	current, err := w.requests.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if current.Status != StatusAwaitingReview && current.Status != StatusReadyToRelease {
		return current, ConflictError(CodeInvalidState, "request is not awaiting review", map[string]any{"status": current.Status})
	}

	now := w.now().UTC()
	decision := &ReviewDecision{By: input.By, At: now, Pass: input.Pass, Notes: input.Notes}
	review := Review{}
	other := current.Review.ReviewerB
	if reviewer == ReviewerA {
		review.ReviewerA = decision
	} else {
		review.ReviewerB = decision
		other = current.Review.ReviewerA
	}

	next := current.Status
	if input.Pass && other != nil && other.Pass {
		next = StatusReadyToRelease
	}

	entry := NewAuditEntry(now, input.By, "review."+string(reviewer), map[string]any{"pass": input.Pass})
	return w.requests.Patch(ctx, id, Patch{Status: &next, Review: &review}, &entry)
}

// Release mints a fresh download URL and moves the export to released.
func (w *Workflow) Release(ctx context.Context, id, by string) (Download, error) {
	current, err := w.requests.Get(ctx, id)
	if err != nil {
		return Download{}, err
	}
	if current.Type != TypeExport {
		return Download{}, ConflictError(CodeInvalidType, "only export requests can be released", map[string]any{"type": current.Type})
	}
	if current.Status != StatusReadyToRelease {
		return Download{}, ConflictError(CodeInvalidState, "request is not ready to release", map[string]any{"status": current.Status})
	}
	if !current.Review.BothPassed() {
		return Download{}, ConflictError(CodeReviewIncomplete, "both reviewers must pass the export", nil)
	}
	if err := w.checkArtifact(current); err != nil {
		return Download{}, err
	}

	url, expiresAt, err := w.signer.SignedURL(ctx, current.ExportBlobPath, w.signedURLTTL)
	if err != nil {
		return Download{}, InternalError("sign export url", err)
	}

	released := StatusReleased
	entry := NewAuditEntry(w.now(), by, "export.released", map[string]any{"expiresAt": expiresAt.UTC()})
	updated, err := w.requests.Patch(ctx, id, Patch{Status: &released}, &entry)
	if err != nil {
		return Download{}, err
	}

	logging.Audit(w.logger).
		Str("event", "dsr.export.released").
		Str("request_id", id).
		Str("by", by).
		Time("expires_at", expiresAt).
		Msg("export released")
	return Download{ID: updated.ID, Status: updated.Status, URL: url, ExpiresAt: expiresAt}, nil
}

// Download re-mints a URL for an already released export. It leaves the
// request unchanged, so repeated downloads never extend retention.
func (w *Workflow) Download(ctx context.Context, id, by string) (Download, error) {
	current, err := w.requests.Get(ctx, id)
	if err != nil {
		return Download{}, err
	}
	if current.Status != StatusReleased && current.Status != StatusSucceeded {
		return Download{}, ConflictError(CodeInvalidState, "request has not been released", map[string]any{"status": current.Status})
	}
	if err := w.checkArtifact(current); err != nil {
		return Download{}, err
	}

	url, expiresAt, err := w.signer.SignedURL(ctx, current.ExportBlobPath, w.signedURLTTL)
	if err != nil {
		return Download{}, InternalError("sign export url", err)
	}

	entry := NewAuditEntry(w.now(), by, "export.downloaded", map[string]any{"expiresAt": expiresAt.UTC()})
	if err := w.requests.appendAuditLog(ctx, id, entry); err != nil {
		return Download{}, err
	}
	logging.Audit(w.logger).
		Str("event", "dsr.export.downloaded").
		Str("request_id", id).
		Str("by", by).
		Time("expires_at", expiresAt).
		Msg("export download url minted")
	return Download{ID: current.ID, Status: current.Status, URL: url, ExpiresAt: expiresAt}, nil
}

func (w *Workflow) checkArtifact(req Request) error {
	if req.ExportBlobPath == "" {
		return ConflictError(CodeMissingBlob, "export archive is missing", nil)
	}
	if w.beyondRetention(req.CompletedAt) {
		return ConflictError(CodeRetentionExpired, "export older than retention window", map[string]any{"retentionDays": w.retentionDays})
	}
	return nil
}

// beyondRetention treats a missing completion time as expired.
func (w *Workflow) beyondRetention(completedAt *time.Time) bool {
	if completedAt == nil {
		return true
	}
	window := time.Duration(w.retentionDays) * 24 * time.Hour
	return w.now().Sub(*completedAt) >= window
}
