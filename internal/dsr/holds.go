package dsr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"privacy/api/internal/logging"
	"privacy/api/internal/store"
	"privacy/api/internal/util"
)

var validate = validator.New()

type PlaceHoldInput struct {
	Scope       HoldScope  `validate:"required,oneof=user post case"`
	ScopeID     string     `validate:"required"`
	Reason      string     `validate:"required,max=500"`
	RequestedBy string     `validate:"required"`
	ExpiresAt   *time.Time `validate:"omitempty"`
}

// HoldRegistry records legal holds. Holds are deactivated, never removed.
type HoldRegistry struct {
	docs   store.Documents
	logger zerolog.Logger
	now    func() time.Time
}

func NewHoldRegistry(docs store.Documents, logger zerolog.Logger) *HoldRegistry {
	return &HoldRegistry{
		docs:   docs,
		logger: logging.Component(logger, "legal_hold"),
		now:    time.Now,
	}
}

func (r *HoldRegistry) Place(ctx context.Context, input PlaceHoldInput) (Hold, error) {
	if err := validate.Struct(input); err != nil {
		return Hold{}, ValidationError(CodeInvalidRequest, err.Error())
	}
	now := r.now().UTC()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return Hold{}, ValidationError(CodeInvalidRequest, "expiresAt must be in the future")
	}

	hold := Hold{
		ID:          util.NewID("hold"),
		Scope:       input.Scope,
		ScopeID:     input.ScopeID,
		Reason:      input.Reason,
		RequestedBy: input.RequestedBy,
		StartedAt:   now,
		Active:      true,
		Audit:       []AuditEntry{NewAuditEntry(now, input.RequestedBy, "placed", nil)},
	}
	if input.ExpiresAt != nil {
		expires := input.ExpiresAt.UTC()
		hold.ExpiresAt = &expires
	}

	rec, err := store.Encode(hold)
	if err != nil {
		return Hold{}, InternalError("encode hold", err)
	}
	if err := r.docs.Create(ctx, store.ContainerLegalHolds, rec); err != nil {
		return Hold{}, InternalError("create hold", err)
	}

	logging.Audit(r.logger).
		Str("event", "dsr.hold.placed").
		Str("hold_id", hold.ID).
		Str("scope", string(hold.Scope)).
		Str("scope_id", hold.ScopeID).
		Str("by", hold.RequestedBy).
		Msg("legal hold placed")
	return hold, nil
}

// Clear deactivates a hold. Clearing an inactive hold changes nothing.
func (r *HoldRegistry) Clear(ctx context.Context, id, by string) (Hold, error) {
	if by == "" {
		by = "system"
	}
	rec, version, err := r.docs.Get(ctx, store.ContainerLegalHolds, id)
	if errors.Is(err, store.ErrNotFound) {
		return Hold{}, NotFoundError(fmt.Sprintf("hold %s not found", id))
	}
	if err != nil {
		return Hold{}, InternalError("get hold", err)
	}
	var hold Hold
	if err := store.Decode(rec, &hold); err != nil {
		return Hold{}, InternalError("decode hold", err)
	}
	if !hold.Active {
		return hold, nil
	}

	hold.Active = false
	hold.Audit = append(hold.Audit, NewAuditEntry(r.now(), by, "cleared", nil))
	next, err := store.Encode(hold)
	if err != nil {
		return Hold{}, InternalError("encode hold", err)
	}
	if err := r.docs.Replace(ctx, store.ContainerLegalHolds, next, version); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return Hold{}, ConflictError(CodeConcurrentUpdate, "hold was modified concurrently", map[string]any{"id": id})
		}
		return Hold{}, InternalError("replace hold", err)
	}

	logging.Audit(r.logger).
		Str("event", "dsr.hold.cleared").
		Str("hold_id", hold.ID).
		Str("scope", string(hold.Scope)).
		Str("scope_id", hold.ScopeID).
		Str("by", by).
		Msg("legal hold cleared")
	return hold, nil
}

// HasHold reports whether an active hold matches scope and scopeID exactly.
func (r *HoldRegistry) HasHold(ctx context.Context, scope HoldScope, scopeID string) (bool, error) {
	records, err := r.docs.Query(ctx, store.ContainerLegalHolds, store.Query{
		Where: []store.Cond{
			store.Eq("scope", string(scope)),
			store.Eq("scopeId", scopeID),
			store.Eq("active", true),
		},
		Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("check %s hold on %s: %w", scope, scopeID, err)
	}
	return len(records) > 0, nil
}

// List returns every hold for scopeID, active or not.
func (r *HoldRegistry) List(ctx context.Context, scopeID string) ([]Hold, error) {
	records, err := r.docs.Query(ctx, store.ContainerLegalHolds, store.Query{
		Where:  []store.Cond{store.Eq("scopeId", scopeID)},
		SortBy: "startedAt",
	})
	if err != nil {
		return nil, InternalError("list holds", err)
	}
	holds := make([]Hold, 0, len(records))
	for _, rec := range records {
		var hold Hold
		if err := store.Decode(rec, &hold); err != nil {
			return nil, InternalError("decode hold", err)
		}
		holds = append(holds, hold)
	}
	return holds, nil
}
