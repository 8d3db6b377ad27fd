package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Containers used across the DSR subsystem.
const (
	ContainerRequests     = "privacy_requests"
	ContainerLegalHolds   = "legal_holds"
	ContainerAuditLogs    = "audit_logs"
	ContainerPrivacyAudit = "privacy_audit"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrVersionMismatch = errors.New("document version mismatch")
)

// Record is a schemaless JSON document. Values follow encoding/json decoding
// rules: strings, float64, bool, nil, []any and map[string]any.
type Record map[string]any

func (r Record) ID() string {
	return r.String("id")
}

func (r Record) String(key string) string {
	value, _ := r[key].(string)
	return value
}

func (r Record) Bool(key string) bool {
	value, _ := r[key].(bool)
	return value
}

// Time parses an RFC 3339 timestamp stored under key.
func (r Record) Time(key string) (time.Time, bool) {
	raw, ok := r[key].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for key, value := range r {
		out[key] = value
	}
	return out
}

type Op string

const (
	OpEq     Op = "eq"
	OpIn     Op = "in"
	OpBefore Op = "before"
	OpSince  Op = "since"
	OpUntil  Op = "until"
)

// Cond is a single predicate on a top-level document field.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

func In(field string, values ...string) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// Before matches timestamps strictly earlier than t.
func Before(field string, t time.Time) Cond { return Cond{Field: field, Op: OpBefore, Value: t.UTC()} }

// Since matches timestamps at or after t.
func Since(field string, t time.Time) Cond { return Cond{Field: field, Op: OpSince, Value: t.UTC()} }

// Until matches timestamps at or before t.
func Until(field string, t time.Time) Cond { return Cond{Field: field, Op: OpUntil, Value: t.UTC()} }

// Query selects records matching every Where condition and, when AnyOf is
// non-empty, at least one AnyOf condition. SortBy names a timestamp field;
// ties are broken by id ascending.
type Query struct {
	Where  []Cond
	AnyOf  []Cond
	SortBy string
	Desc   bool
	Offset int
	Limit  int
}

// Documents is the document-store contract consumed by the DSR core.
// Replace with ifVersion > 0 only succeeds when the stored version matches.
type Documents interface {
	Get(ctx context.Context, container, id string) (Record, int64, error)
	Create(ctx context.Context, container string, rec Record) error
	Replace(ctx context.Context, container string, rec Record, ifVersion int64) error
	Delete(ctx context.Context, container, id string) error
	Query(ctx context.Context, container string, q Query) ([]Record, error)
}

// Encode converts a typed value into a Record through its JSON form.
func Encode(v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return rec, nil
}

// Decode fills out from a Record through its JSON form.
func Decode(rec Record, out any) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
