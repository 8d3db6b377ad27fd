package deletion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"privacy/api/internal/dsr"
	"privacy/api/internal/store"
	"privacy/api/internal/store/storetest"
)

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) string {
	return testNow.AddDate(0, 0, -n).Format(time.RFC3339Nano)
}

// queryFailingDocs fails every query against one container.
type queryFailingDocs struct {
	*storetest.Memory
	container string
}

var errQuery = errors.New("container unavailable")

func (d queryFailingDocs) Query(ctx context.Context, container string, q store.Query) ([]store.Record, error) {
	if container == d.container {
		return nil, errQuery
	}
	return d.Memory.Query(ctx, container, q)
}

type fakeHolds struct {
	hasHoldFn func(context.Context, dsr.HoldScope, string) (bool, error)
}

func (f *fakeHolds) HasHold(ctx context.Context, scope dsr.HoldScope, scopeID string) (bool, error) {
	if f.hasHoldFn != nil {
		return f.hasHoldFn(ctx, scope, scopeID)
	}
	return false, nil
}

func newTestHolds(docs store.Documents) *dsr.HoldRegistry {
	return dsr.NewHoldRegistry(docs, zerolog.Nop())
}

func placeHold(t *testing.T, holds *dsr.HoldRegistry, scope dsr.HoldScope, scopeID string) dsr.Hold {
	t.Helper()
	hold, err := holds.Place(context.Background(), dsr.PlaceHoldInput{Scope: scope, ScopeID: scopeID, Reason: "litigation", RequestedBy: "legal"})
	require.NoError(t, err)
	return hold
}

func mustGet(t *testing.T, docs store.Documents, container, id string) store.Record {
	t.Helper()
	rec, _, err := docs.Get(context.Background(), container, id)
	require.NoError(t, err)
	return rec
}

func auditEvents(entries []dsr.AuditEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Event)
	}
	return out
}
