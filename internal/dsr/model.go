package dsr

import "time"

type Type string

const (
	TypeExport Type = "export"
	TypeDelete Type = "delete"
)

func (t Type) Valid() bool {
	return t == TypeExport || t == TypeDelete
}

type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusAwaitingReview Status = "awaiting_review"
	StatusReadyToRelease Status = "ready_to_release"
	StatusReleased       Status = "released"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusCanceled       Status = "canceled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusAwaitingReview,
	StatusReadyToRelease,
	StatusReleased,
	StatusSucceeded,
	StatusFailed,
	StatusCanceled,
}

func (s Status) Valid() bool {
	for _, status := range allStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// AuditEntry is immutable once appended.
type AuditEntry struct {
	At    time.Time      `json:"at"`
	By    string         `json:"by"`
	Event string         `json:"event"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func NewAuditEntry(at time.Time, by, event string, meta map[string]any) AuditEntry {
	return AuditEntry{At: at.UTC(), By: by, Event: event, Meta: meta}
}

type ReviewDecision struct {
	By    string    `json:"by"`
	At    time.Time `json:"at"`
	Pass  bool      `json:"pass"`
	Notes string    `json:"notes,omitempty"`
}

type Review struct {
	ReviewerA *ReviewDecision `json:"reviewerA,omitempty"`
	ReviewerB *ReviewDecision `json:"reviewerB,omitempty"`
}

// BothPassed reports whether both reviewers recorded a passing decision.
func (r Review) BothPassed() bool {
	return r.ReviewerA != nil && r.ReviewerA.Pass && r.ReviewerB != nil && r.ReviewerB.Pass
}

type Request struct {
	ID             string       `json:"id"`
	Type           Type         `json:"type"`
	UserID         string       `json:"userId"`
	RequestedBy    string       `json:"requestedBy"`
	RequestedAt    time.Time    `json:"requestedAt"`
	Status         Status       `json:"status"`
	Attempt        int          `json:"attempt"`
	Note           string       `json:"note,omitempty"`
	Review         Review       `json:"review"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	ExportBlobPath string       `json:"exportBlobPath,omitempty"`
	ExportBytes    int64        `json:"exportBytes,omitempty"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
	FailureReason  string       `json:"failureReason,omitempty"`
	Audit          []AuditEntry `json:"audit"`
}

type HoldScope string

const (
	HoldScopeUser HoldScope = "user"
	HoldScopePost HoldScope = "post"
	HoldScopeCase HoldScope = "case"
)

type Hold struct {
	ID          string       `json:"id"`
	Scope       HoldScope    `json:"scope"`
	ScopeID     string       `json:"scopeId"`
	Reason      string       `json:"reason"`
	RequestedBy string       `json:"requestedBy"`
	StartedAt   time.Time    `json:"startedAt"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	Active      bool         `json:"active"`
	Audit       []AuditEntry `json:"audit"`
}

// Message is the queue payload that announces a request to the dispatcher.
type Message struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	SubmittedAt time.Time `json:"submittedAt"`
}
