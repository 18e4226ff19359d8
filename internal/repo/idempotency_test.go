package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/chatdys-backend/internal/domain"
)

func idemRecord(key string, ttl time.Duration) *domain.Idempotency {
	return &domain.Idempotency{
		AccountID:      "acct-1",
		Scope:          "query",
		Key:            key,
		RequestHash:    domain.HashRequest("why am I dizzy?", ""),
		ConversationID: "c1",
		MessageID:      "m1",
		ExpiresAt:      time.Now().UTC().Add(ttl),
	}
}

func TestFindIdempotency_BlankKey(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()
	for _, k := range []IdemKey{{AccountID: "acct-1", Scope: " ", Key: "k"}, {AccountID: "acct-1", Scope: "query"}} {
		rec, err := FindIdempotency(context.Background(), db, k, now)
		assert.Nil(t, rec)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestSaveIdempotency_LiveKeyIsDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	k := IdemKey{AccountID: "acct-1", Scope: "query", Key: "retry-1"}

	rec := idemRecord("retry-1", time.Hour)
	require.NoError(t, SaveIdempotency(ctx, db, rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := FindIdempotency(ctx, db, k, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.RequestHash, got.RequestHash)
	assert.Equal(t, "c1", got.ConversationID)

	assert.ErrorIs(t, SaveIdempotency(ctx, db, idemRecord("retry-1", time.Hour)), ErrDuplicate)

	_, err = FindIdempotency(ctx, db, k, time.Now().UTC().Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound, "expired records are not found")
}

func TestSaveIdempotency_ReplacesExpired(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()

	require.NoError(t, SaveIdempotency(ctx, db, idemRecord("retry-1", -time.Minute)))
	fresh := idemRecord("retry-1", time.Hour)
	fresh.MessageID = "m2"
	require.NoError(t, SaveIdempotency(ctx, db, fresh))

	var n int64
	require.NoError(t, db.Model(&domain.Idempotency{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestPurgeIdempotency(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	require.NoError(t, SaveIdempotency(ctx, db, idemRecord("old-1", -time.Hour)))
	require.NoError(t, SaveIdempotency(ctx, db, idemRecord("old-2", -time.Minute)))
	require.NoError(t, SaveIdempotency(ctx, db, idemRecord("live", time.Hour)))

	n, err := PurgeIdempotency(ctx, db, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = PurgeIdempotency(ctx, db, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIdempotency_NoTable(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, SaveIdempotency(context.Background(), db, idemRecord("k", time.Minute)))
	_, err := PurgeIdempotency(context.Background(), db, time.Now())
	assert.Error(t, err)
}

func TestCompleteIdempotency_FillsPendingClaim(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	k := IdemKey{AccountID: "acct-1", Scope: "query", Key: "retry-1"}

	claim := idemRecord("retry-1", time.Minute)
	claim.ConversationID, claim.MessageID = "", ""
	require.NoError(t, SaveIdempotency(ctx, db, claim))

	got, err := FindIdempotency(ctx, db, k, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, got.Pending())

	later := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, CompleteIdempotency(ctx, db, k, "c9", "m9", later))

	got, err = FindIdempotency(ctx, db, k, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err, "expiry moved forward")
	assert.False(t, got.Pending())
	assert.Equal(t, "c9", got.ConversationID)
	assert.Equal(t, "m9", got.MessageID)

	assert.ErrorIs(t, CompleteIdempotency(ctx, db, k, "c0", "m0", later), ErrNotFound, "completed records stay as they are")

	require.NoError(t, ReleaseIdempotency(ctx, db, k))
	_, err = FindIdempotency(ctx, db, k, time.Now().UTC())
	assert.NoError(t, err, "release keeps completed records")
}

func TestReleaseIdempotency_DropsPendingClaim(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	k := IdemKey{AccountID: "acct-1", Scope: "query", Key: "retry-2"}

	claim := idemRecord("retry-2", time.Minute)
	claim.MessageID = ""
	require.NoError(t, SaveIdempotency(ctx, db, claim))
	require.NoError(t, ReleaseIdempotency(ctx, db, k))

	_, err := FindIdempotency(ctx, db, k, time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, SaveIdempotency(ctx, db, idemRecord("retry-2", time.Hour)), "key is free again")
}
