// Package deletion removes a user's footprint: the queued soft-delete worker,
// the immediate cascade engine, and the scheduled purge of soft-deleted data.
package deletion

import (
	"context"
	"strings"

	"privacy/api/internal/dsr"
	"privacy/api/internal/store"
)

// Markers written over identifying fields of anonymized records.
const (
	DeletedUserMarker  = "[deleted]"
	DeletedEmailMarker = "deleted@anonymized.local"
)

type Operation string

const (
	OperationDelete    Operation = "delete"
	OperationAnonymize Operation = "anonymize"
)

// Bucket is a document container holding records linked to a user through
// MatchField. Records in a bucket with a HoldScope are checked against legal
// holds by their own id.
type Bucket struct {
	Container       string
	MatchField      string
	HoldScope       dsr.HoldScope
	Operation       Operation
	AnonymizeFields []string
}

// SoftDeleteBuckets are marked by the delete worker and swept by the purge job.
var SoftDeleteBuckets = []Bucket{
	{Container: "posts", MatchField: "authorId", HoldScope: dsr.HoldScopePost},
	{Container: "comments", MatchField: "authorId"},
	{Container: "likes", MatchField: "userId"},
	{Container: "content_flags", MatchField: "flaggedBy"},
	{Container: "appeals", MatchField: "submitterId"},
	{Container: "appeal_votes", MatchField: "voterId"},
}

// CascadeBuckets is the policy table of the immediate cascade, in run order.
var CascadeBuckets = []Bucket{
	{Container: "likes", MatchField: "userId", Operation: OperationDelete},
	{Container: "appeal_votes", MatchField: "voterId", Operation: OperationDelete},
	{
		Container:       "posts",
		MatchField:      "authorId",
		HoldScope:       dsr.HoldScopePost,
		Operation:       OperationAnonymize,
		AnonymizeFields: []string{"authorId", "authorName", "authorEmail", "authorAvatar"},
	},
	{
		Container:       "comments",
		MatchField:      "authorId",
		Operation:       OperationAnonymize,
		AnonymizeFields: []string{"authorId", "authorName", "authorEmail", "authorAvatar"},
	},
	{
		Container:       "content_flags",
		MatchField:      "flaggedBy",
		Operation:       OperationAnonymize,
		AnonymizeFields: []string{"flaggedBy", "flaggedByName", "flaggedByEmail"},
	},
	{
		Container:       "appeals",
		MatchField:      "submitterId",
		Operation:       OperationAnonymize,
		AnonymizeFields: []string{"submitterId", "submitterName", "submitterEmail"},
	},
	{Container: "users", MatchField: "id", HoldScope: dsr.HoldScopeUser, Operation: OperationDelete},
}

func (b Bucket) userQuery(userID string) store.Query {
	return store.Query{Where: []store.Cond{store.Eq(b.MatchField, userID)}}
}

// anonymize replaces the configured fields that are present with deletion
// markers and stamps the record. Content fields are left untouched.
func anonymize(rec store.Record, fields []string, at, by string) store.Record {
	out := rec.Clone()
	for _, field := range fields {
		if _, ok := out[field]; !ok {
			continue
		}
		if strings.Contains(strings.ToLower(field), "email") {
			out[field] = DeletedEmailMarker
		} else {
			out[field] = DeletedUserMarker
		}
	}
	out["anonymized"] = true
	out["anonymizedAt"] = at
	out["anonymizedBy"] = by
	return out
}

// HoldChecker reports whether an active legal hold covers (scope, scopeID).
type HoldChecker interface {
	HasHold(ctx context.Context, scope dsr.HoldScope, scopeID string) (bool, error)
}
