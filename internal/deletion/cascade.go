package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"privacy/api/internal/dsr"
	"privacy/api/internal/logging"
	"privacy/api/internal/metrics"
	"privacy/api/internal/store"
)

// UserHoldMessage is returned when a user hold refuses a cascade run.
const UserHoldMessage = "Cannot delete: active legal hold on user"

// relationalBucket names the identity purge in reports.
const relationalBucket = "relational"

// IdentityStore hard-deletes and counts a user's relational identity rows.
type IdentityStore interface {
	PurgeIdentity(ctx context.Context, userID string) (map[string]int64, error)
	CountIdentityRows(ctx context.Context, userID string) (map[string]int64, error)
}

// Engine runs the immediate cascade: hard delete or anonymize across every
// bucket, then the relational identity purge.
type Engine struct {
	docs     store.Documents
	holds    HoldChecker
	identity IdentityStore
	buckets  []Bucket
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(docs store.Documents, holds HoldChecker, identity IdentityStore, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		docs:     docs,
		holds:    holds,
		identity: identity,
		buckets:  CascadeBuckets,
		metrics:  m,
		logger:   logging.Component(logger, "cascade"),
		now:      time.Now,
	}
}

// Run purges userID. A user hold refuses the whole run with a legal_hold
// conflict before anything is touched; otherwise failures are collected in
// the report and the run continues.
func (e *Engine) Run(ctx context.Context, userID, deletedBy string) (Report, error) {
	at := e.now().UTC()
	report := newReport(userID, deletedBy, at)

	held, err := e.holds.HasHold(ctx, dsr.HoldScopeUser, userID)
	if err != nil {
		return report, fmt.Errorf("check user hold: %w", err)
	}
	if held {
		e.logger.Warn().
			Str("event", "dsr.cascade.hold").
			Str("user_id", userID).
			Msg(UserHoldMessage)
		return report, dsr.ConflictError(dsr.CodeLegalHold, UserHoldMessage, map[string]any{"userId": userID})
	}

	stamp := at.Format(time.RFC3339Nano)
	for _, bucket := range e.buckets {
		records, err := e.docs.Query(ctx, bucket.Container, bucket.userQuery(userID))
		if err != nil {
			report.bucketFailed(bucket.Container, fmt.Errorf("query: %w", err))
			continue
		}
		for _, rec := range records {
			outcome, err := e.apply(ctx, bucket, rec, stamp, deletedBy)
			report.record(bucket.Container, rec.ID(), outcome, err)
		}
	}

	if e.identity != nil {
		deleted, err := e.identity.PurgeIdentity(ctx, userID)
		if err != nil {
			report.bucketFailed(relationalBucket, err)
		} else {
			report.Identity = deleted
		}
	}

	observeReport(e.metrics, "cascade", report)
	for _, itemErr := range report.Errors {
		e.logger.Warn().Err(itemErr.Err).
			Str("event", "dsr.cascade.item_failed").
			Str("user_id", userID).
			Str("bucket", itemErr.Bucket).
			Str("item_id", itemErr.ItemID).
			Msg("cascade item failed")
	}
	e.logger.Info().
		Str("event", "dsr.cascade.completed").
		Str("user_id", userID).
		Str("by", deletedBy).
		Int("deleted", report.Total(OutcomeDeleted)).
		Int("anonymized", report.Total(OutcomeAnonymized)).
		Int("skipped_hold", report.Total(OutcomeHeld)).
		Int("errors", len(report.Errors)).
		Msg("cascade completed")
	return report, nil
}

func (e *Engine) apply(ctx context.Context, bucket Bucket, rec store.Record, at, by string) (Outcome, error) {
	if bucket.HoldScope != "" {
		held, err := e.holds.HasHold(ctx, bucket.HoldScope, rec.ID())
		if err != nil {
			return OutcomeFailed, fmt.Errorf("check hold: %w", err)
		}
		if held {
			return OutcomeHeld, nil
		}
	}

	switch bucket.Operation {
	case OperationDelete:
		if err := e.docs.Delete(ctx, bucket.Container, rec.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	case OperationAnonymize:
		if err := e.docs.Replace(ctx, bucket.Container, anonymize(rec, bucket.AnonymizeFields, at, by), 0); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeAnonymized, nil
	default:
		return OutcomeFailed, fmt.Errorf("unknown operation %q", bucket.Operation)
	}
}

// Remaining is a location still holding data linked to the user.
type Remaining struct {
	Location string `json:"location"`
	Count    int64  `json:"count"`
}

// Verification is the outcome of re-scanning a user's footprint.
type Verification struct {
	UserID    string      `json:"userId"`
	Purged    bool        `json:"purged"`
	Remaining []Remaining `json:"remaining"`
}

// Verify re-scans every bucket and the relational identity for records still
// carrying userID in their identifying field. Anonymized records no longer
// match since the field holds the marker.
func (e *Engine) Verify(ctx context.Context, userID string) (Verification, error) {
	result := Verification{UserID: userID, Remaining: []Remaining{}}
	for _, bucket := range e.buckets {
		records, err := e.docs.Query(ctx, bucket.Container, bucket.userQuery(userID))
		if err != nil {
			return result, fmt.Errorf("scan %s: %w", bucket.Container, err)
		}
		var count int64
		for _, rec := range records {
			if rec.String(bucket.MatchField) == userID {
				count++
			}
		}
		if count > 0 {
			result.Remaining = append(result.Remaining, Remaining{Location: "documents:" + bucket.Container, Count: count})
		}
	}

	if e.identity != nil {
		counts, err := e.identity.CountIdentityRows(ctx, userID)
		if err != nil {
			return result, fmt.Errorf("scan relational identity: %w", err)
		}
		for _, location := range identityLocations {
			if counts[location] > 0 {
				result.Remaining = append(result.Remaining, Remaining{Location: "relational:" + location, Count: counts[location]})
			}
		}
	}

	result.Purged = len(result.Remaining) == 0
	return result, nil
}

var identityLocations = []string{"users", "profiles", "auth_identities", "follows", "follows(followee)"}
