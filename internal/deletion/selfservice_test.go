package deletion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacy/api/internal/cooldown"
	"privacy/api/internal/dsr"
	"privacy/api/internal/store"
	"privacy/api/internal/store/storetest"
)

type fakeLimiter struct {
	acquireFn func(context.Context, string) (cooldown.Decision, error)
}

func (f *fakeLimiter) Acquire(ctx context.Context, subject string) (cooldown.Decision, error) {
	return f.acquireFn(ctx, subject)
}

func newTestSelfService(t *testing.T, docs *storetest.Memory, holds HoldChecker) *SelfService {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := cooldown.NewRedisCooldownWithClient(client, "privacy_delete:", time.Hour)
	svc := NewSelfService(newTestEngine(docs, holds, &fakeIdentityStore{}), limiter, docs, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestSelfServiceDelete(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	seedCascadeData(t, docs)
	svc := newTestSelfService(t, docs, newTestHolds(docs))

	_, err := svc.Delete(ctx, "U1", false)
	assert.True(t, dsr.HasCode(err, dsr.CodeConfirmationRequired))
	assert.Zero(t, docs.Count(store.ContainerPrivacyAudit))
	assert.Equal(t, 1, docs.Count("users"), "nothing runs without confirmation")

	report, err := svc.Delete(ctx, "U1", true)
	require.NoError(t, err)
	assert.Equal(t, "self:U1", report.By)
	assert.Zero(t, docs.Count("users"))

	audits := docs.All(store.ContainerPrivacyAudit)
	require.Len(t, audits, 1)
	assert.Equal(t, "U1", audits[0]["userId"])
	assert.Equal(t, "delete", audits[0]["action"])
	assert.Equal(t, "success", audits[0]["result"])
	assert.Equal(t, "self", audits[0]["operator"])
	assert.Equal(t, testNow.Format(time.RFC3339Nano), audits[0]["timestamp"])

	_, err = svc.Delete(ctx, "U1", true)
	require.Error(t, err)
	assert.True(t, dsr.HasCode(err, dsr.CodeRateLimitExceeded))
	assert.True(t, dsr.IsKind(err, dsr.KindRateLimited))
	assert.Len(t, docs.All(store.ContainerPrivacyAudit), 1)
}

func TestSelfServiceDeleteRecordsFailure(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewMemory()
	seedCascadeData(t, docs)
	holds := newTestHolds(docs)
	placeHold(t, holds, dsr.HoldScopeUser, "U1")
	svc := newTestSelfService(t, docs, holds)

	_, err := svc.Delete(ctx, "U1", true)
	require.Error(t, err)
	assert.True(t, dsr.HasCode(err, dsr.CodeLegalHold))

	audits := docs.All(store.ContainerPrivacyAudit)
	require.Len(t, audits, 1)
	assert.Equal(t, "failure", audits[0]["result"])
	assert.Equal(t, 1, docs.Count("users"))
}

func TestSelfServiceDeleteLimiterFailure(t *testing.T) {
	docs := storetest.NewMemory()
	limiter := &fakeLimiter{acquireFn: func(context.Context, string) (cooldown.Decision, error) {
		return cooldown.Decision{}, errors.New("redis down")
	}}
	svc := NewSelfService(newTestEngine(docs, &fakeHolds{}, nil), limiter, docs, zerolog.Nop())

	_, err := svc.Delete(context.Background(), "U1", true)
	assert.True(t, dsr.IsKind(err, dsr.KindInternal))

	_, err = svc.Delete(context.Background(), "", true)
	assert.True(t, dsr.IsKind(err, dsr.KindValidation))
}
