package dsr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"privacy/api/internal/store"
	"privacy/api/internal/util"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Patch carries the fields a caller wants to change. Nil fields are kept.
// Review merges per reviewer: a nil reviewer slot keeps the stored decision.
type Patch struct {
	Status           *Status
	IncrementAttempt bool
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ExportBlobPath   *string
	ExportBytes      *int64
	FailureReason    *string
	Review           *Review
}

type ListFilter struct {
	Type              Type
	Statuses          []Status
	From              *time.Time
	To                *time.Time
	UserID            string
	Limit             int
	ContinuationToken string
}

type Page struct {
	Items             []Request `json:"items"`
	ContinuationToken string    `json:"continuationToken,omitempty"`
	HasMore           bool      `json:"hasMore"`
}

// RequestStore persists DSR requests and mirrors every appended audit entry
// into the audit log container.
type RequestStore struct {
	docs store.Documents
}

func NewRequestStore(docs store.Documents) *RequestStore {
	return &RequestStore{docs: docs}
}

func (s *RequestStore) Get(ctx context.Context, id string) (Request, error) {
	req, _, err := s.load(ctx, id)
	return req, err
}

func (s *RequestStore) Create(ctx context.Context, req Request) error {
	if req.Audit == nil {
		req.Audit = []AuditEntry{}
	}
	rec, err := store.Encode(req)
	if err != nil {
		return InternalError("encode request", err)
	}
	if err := s.docs.Create(ctx, store.ContainerRequests, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return ConflictError(CodeInvalidRequest, "request already exists", map[string]any{"id": req.ID})
		}
		return InternalError("create request", err)
	}
	for _, entry := range req.Audit {
		if err := s.appendAuditLog(ctx, req.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

// Patch applies changes to the stored request and replaces it only if nobody
// else wrote it since it was read. A status change must follow a legal edge.
func (s *RequestStore) Patch(ctx context.Context, id string, patch Patch, entry *AuditEntry) (Request, error) {
	current, version, err := s.load(ctx, id)
	if err != nil {
		return Request{}, err
	}

	if patch.Status != nil && !CanTransition(current.Status, *patch.Status) {
		return current, ConflictError(CodeInvalidTransition,
			fmt.Sprintf("cannot move request from %s to %s", current.Status, *patch.Status),
			map[string]any{"from": current.Status, "to": *patch.Status})
	}

	next := current
	applyPatch(&next, patch)
	next.Audit = append(append([]AuditEntry{}, current.Audit...), auditSlice(entry)...)

	rec, err := store.Encode(next)
	if err != nil {
		return current, InternalError("encode request", err)
	}
	if err := s.docs.Replace(ctx, store.ContainerRequests, rec, version); err != nil {
		switch {
		case errors.Is(err, store.ErrVersionMismatch):
			return current, ConflictError(CodeConcurrentUpdate, "request was modified concurrently", map[string]any{"id": id})
		case errors.Is(err, store.ErrNotFound):
			return current, NotFoundError(fmt.Sprintf("request %s not found", id))
		default:
			return current, InternalError("replace request", err)
		}
	}

	if entry != nil {
		if err := s.appendAuditLog(ctx, id, *entry); err != nil {
			return next, err
		}
	}
	return next, nil
}

func (s *RequestStore) List(ctx context.Context, filter ListFilter) (Page, error) {
	query, err := listQuery(filter)
	if err != nil {
		return Page{}, err
	}

	records, err := s.docs.Query(ctx, store.ContainerRequests, query)
	if err != nil {
		return Page{}, InternalError("list requests", err)
	}

	page := Page{Items: make([]Request, 0, len(records))}
	pageSize := query.Limit - 1
	if len(records) > pageSize {
		records = records[:pageSize]
		page.HasMore = true
		page.ContinuationToken = encodeToken(query.Offset + pageSize)
	}
	for _, rec := range records {
		var req Request
		if err := store.Decode(rec, &req); err != nil {
			return Page{}, InternalError("decode request", err)
		}
		page.Items = append(page.Items, req)
	}
	return page, nil
}

func (s *RequestStore) load(ctx context.Context, id string) (Request, int64, error) {
	rec, version, err := s.docs.Get(ctx, store.ContainerRequests, id)
	if errors.Is(err, store.ErrNotFound) {
		return Request{}, 0, NotFoundError(fmt.Sprintf("request %s not found", id))
	}
	if err != nil {
		return Request{}, 0, InternalError("get request", err)
	}
	var req Request
	if err := store.Decode(rec, &req); err != nil {
		return Request{}, 0, InternalError("decode request", err)
	}
	return req, version, nil
}

func (s *RequestStore) appendAuditLog(ctx context.Context, requestID string, entry AuditEntry) error {
	rec, err := store.Encode(entry)
	if err != nil {
		return InternalError("encode audit entry", err)
	}
	rec["id"] = util.NewID("audit")
	rec["requestId"] = requestID
	if err := s.docs.Create(ctx, store.ContainerAuditLogs, rec); err != nil {
		return InternalError("write audit log", err)
	}
	return nil
}

func applyPatch(req *Request, patch Patch) {
	if patch.Status != nil {
		req.Status = *patch.Status
	}
	if patch.IncrementAttempt {
		req.Attempt++
	}
	if patch.StartedAt != nil {
		at := patch.StartedAt.UTC()
		req.StartedAt = &at
	}
	if patch.CompletedAt != nil {
		at := patch.CompletedAt.UTC()
		req.CompletedAt = &at
	}
	if patch.ExportBlobPath != nil {
		req.ExportBlobPath = *patch.ExportBlobPath
	}
	if patch.ExportBytes != nil {
		req.ExportBytes = *patch.ExportBytes
	}
	if patch.FailureReason != nil {
		req.FailureReason = *patch.FailureReason
	}
	if patch.Review != nil {
		if patch.Review.ReviewerA != nil {
			decision := *patch.Review.ReviewerA
			req.Review.ReviewerA = &decision
		}
		if patch.Review.ReviewerB != nil {
			decision := *patch.Review.ReviewerB
			req.Review.ReviewerB = &decision
		}
	}
}

func auditSlice(entry *AuditEntry) []AuditEntry {
	if entry == nil {
		return nil
	}
	return []AuditEntry{*entry}
}

func listQuery(filter ListFilter) (store.Query, error) {
	query := store.Query{SortBy: "requestedAt", Desc: true}

	if filter.Type != "" {
		if !filter.Type.Valid() {
			return query, ValidationError(CodeInvalidType, "type must be one of: export, delete")
		}
		query.Where = append(query.Where, store.Eq("type", string(filter.Type)))
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			if !status.Valid() {
				return query, ValidationError(CodeInvalidStatus, fmt.Sprintf("unknown status %q", status))
			}
			values = append(values, string(status))
		}
		query.Where = append(query.Where, store.In("status", values...))
	}
	if filter.From != nil {
		query.Where = append(query.Where, store.Since("requestedAt", *filter.From))
	}
	if filter.To != nil {
		query.Where = append(query.Where, store.Until("requestedAt", *filter.To))
	}
	if filter.UserID != "" {
		query.Where = append(query.Where, store.Eq("userId", filter.UserID))
	}

	limit := filter.Limit
	switch {
	case limit < 0:
		return query, ValidationError(CodeInvalidLimit, "limit must be a positive integer")
	case limit == 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	offset, err := decodeToken(filter.ContinuationToken)
	if err != nil {
		return query, err
	}
	query.Offset = offset
	// One extra row tells us whether another page exists.
	query.Limit = limit + 1
	return query, nil
}

type pageToken struct {
	Offset int `json:"o"`
}

func encodeToken(offset int) string {
	raw, _ := json.Marshal(pageToken{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, ValidationError(CodeInvalidToken, "continuation token is malformed")
	}
	var parsed pageToken
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Offset < 0 {
		return 0, ValidationError(CodeInvalidToken, "continuation token is malformed")
	}
	return parsed.Offset, nil
}
