package dsr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindRateLimited   Kind = "rate_limited"
	KindInternal      Kind = "internal"
)

// Stable machine-readable codes surfaced at the HTTP boundary.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidStatus        = "invalid_status"
	CodeInvalidLimit         = "invalid_limit"
	CodeInvalidToken         = "invalid_continuation_token"
	CodeNotFound             = "not_found"
	CodeInvalidState         = "invalid_state"
	CodeInvalidType          = "invalid_type"
	CodeInvalidTransition    = "invalid_transition"
	CodeMissingBlob          = "missing_blob"
	CodeRetentionExpired     = "retention_expired"
	CodeReviewIncomplete     = "review_incomplete"
	CodeConcurrentUpdate     = "concurrent_update"
	CodeLegalHold            = "legal_hold"
	CodeConfirmationRequired = "confirmation_required"
	CodeRateLimitExceeded    = "rate_limit_exceeded"
	CodeInternal             = "internal_error"
)

type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Status maps the error kind onto an HTTP status code.
func (e *DomainError) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func domainError(kind Kind, code, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func ValidationError(code, message string) *DomainError {
	return domainError(KindValidation, code, message, nil)
}

func NotFoundError(message string) *DomainError {
	return domainError(KindNotFound, CodeNotFound, message, nil)
}

func ConflictError(code, message string, details any) *DomainError {
	return domainError(KindConflict, code, message, details)
}

func RateLimitError(message string, details any) *DomainError {
	return domainError(KindRateLimited, CodeRateLimitExceeded, message, details)
}

func InternalError(message string, err error) *DomainError {
	out := domainError(KindInternal, CodeInternal, message, nil)
	out.Err = err
	return out
}

func IsKind(err error, kind Kind) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Kind == kind
}

func HasCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}
