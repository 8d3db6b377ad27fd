package deletion

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
)

// Outcome of processing one record in a batch.
type Outcome string

const (
	OutcomeDeleted    Outcome = "deleted"
	OutcomeAnonymized Outcome = "anonymized"
	OutcomeMarked     Outcome = "marked"
	OutcomeHeld       Outcome = "skipped_hold"
	OutcomeFailed     Outcome = "failed"
)

// BucketCounts tallies outcomes for one bucket.
type BucketCounts struct {
	Deleted        int `json:"deleted,omitempty"`
	Anonymized     int `json:"anonymized,omitempty"`
	Marked         int `json:"marked,omitempty"`
	SkippedForHold int `json:"skippedForHold,omitempty"`
	Failed         int `json:"failed,omitempty"`
}

// ItemError is a failure on one record (or a whole bucket when ItemID is
// empty) that did not abort the batch.
type ItemError struct {
	Bucket string
	ItemID string
	Err    error
}

func (e ItemError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("%s: %v", e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Bucket, e.ItemID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

func (e ItemError) MarshalJSON() ([]byte, error) {
	out := struct {
		Bucket string `json:"bucket"`
		ItemID string `json:"itemId,omitempty"`
		Error  string `json:"error"`
	}{Bucket: e.Bucket, ItemID: e.ItemID}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}

// Report is the result of a batch run over one or more buckets.
type Report struct {
	UserID   string                   `json:"userId,omitempty"`
	By       string                   `json:"by,omitempty"`
	At       time.Time                `json:"at"`
	Buckets  map[string]*BucketCounts `json:"buckets"`
	Identity map[string]int64         `json:"identity,omitempty"`
	Errors   []ItemError              `json:"errors,omitempty"`
}

func newReport(userID, by string, at time.Time) Report {
	return Report{UserID: userID, By: by, At: at, Buckets: map[string]*BucketCounts{}}
}

func (r *Report) bucket(name string) *BucketCounts {
	counts, ok := r.Buckets[name]
	if !ok {
		counts = &BucketCounts{}
		r.Buckets[name] = counts
	}
	return counts
}

// record folds one per-item result into the report.
func (r *Report) record(bucket, itemID string, outcome Outcome, err error) {
	counts := r.bucket(bucket)
	switch outcome {
	case OutcomeDeleted:
		counts.Deleted++
	case OutcomeAnonymized:
		counts.Anonymized++
	case OutcomeMarked:
		counts.Marked++
	case OutcomeHeld:
		counts.SkippedForHold++
	case OutcomeFailed:
		counts.Failed++
		r.Errors = append(r.Errors, ItemError{Bucket: bucket, ItemID: itemID, Err: err})
	}
}

func (r *Report) bucketFailed(bucket string, err error) {
	r.bucket(bucket)
	r.Errors = append(r.Errors, ItemError{Bucket: bucket, Err: err})
}

// Total sums an outcome across buckets.
func (r Report) Total(outcome Outcome) int {
	total := 0
	for _, counts := range r.Buckets {
		switch outcome {
		case OutcomeDeleted:
			total += counts.Deleted
		case OutcomeAnonymized:
			total += counts.Anonymized
		case OutcomeMarked:
			total += counts.Marked
		case OutcomeHeld:
			total += counts.SkippedForHold
		case OutcomeFailed:
			total += counts.Failed
		}
	}
	return total
}

// BucketNames lists the buckets touched, sorted.
func (r Report) BucketNames() []string {
	names := lo.Keys(r.Buckets)
	slices.Sort(names)
	return names
}

// Err folds every item error into one, or returns nil.
func (r Report) Err() error {
	var result *multierror.Error
	for _, itemErr := range r.Errors {
		result = multierror.Append(result, itemErr)
	}
	return result.ErrorOrNil()
}

func (r Report) summary() map[string]any {
	return map[string]any{
		"deleted":        r.Total(OutcomeDeleted),
		"anonymized":     r.Total(OutcomeAnonymized),
		"marked":         r.Total(OutcomeMarked),
		"skippedForHold": r.Total(OutcomeHeld),
		"errorCount":     len(r.Errors),
	}
}
