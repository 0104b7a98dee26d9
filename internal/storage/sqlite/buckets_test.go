package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

func newTestBucket(rule, payer, payee string) *types.Bucket {
	return &types.Bucket{
		BucketingRuleID: rule,
		PayerID:         payer,
		PayeeID:         payee,
		TotalAmount:     decimal.Zero,
	}
}

func TestOpenBucketIdentityIsUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, first))

	dup := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	err := store.CreateBucket(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// A COMPLETED bucket frees the identity slot for a new open one.
	require.NoError(t, store.TransitionBucket(ctx, first.BucketID,
		types.BucketAccumulating, types.BucketGenerating, nil))
	require.NoError(t, store.TransitionBucket(ctx, first.BucketID,
		types.BucketGenerating, types.BucketCompleted, nil))

	require.NoError(t, store.CreateBucket(ctx, newTestBucket("rule-1", "PAYER1", "PAYEE1")))
}

func TestAddClaimToBucketIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bucket := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, bucket))

	claim := newTestClaim("claim-1", "PAYER1", "PAYEE1")
	added, err := store.AddClaimToBucket(ctx, bucket.BucketID, claim)
	require.NoError(t, err)
	assert.True(t, added)

	// Replayed change: same claim id must be a no-op.
	added, err = store.AddClaimToBucket(ctx, bucket.BucketID, claim)
	require.NoError(t, err)
	assert.False(t, added)

	got, err := store.GetBucket(ctx, bucket.BucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ClaimCount)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromFloat(100.00)),
		"total = %s", got.TotalAmount)

	count, total, err := store.BucketAggregate(ctx, bucket.BucketID)
	require.NoError(t, err)
	assert.Equal(t, got.ClaimCount, count)
	assert.True(t, got.TotalAmount.Equal(total))
}

func TestAddRejectedClaimCountsRejectionOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bucket := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, bucket))

	rejected := newTestClaim("claim-rej", "PAYER1", "PAYEE1")
	rejected.Status = types.ClaimDenied
	rejected.PaidAmount = decimal.Zero
	rejected.PatientResponsibilityAmount = decimal.Zero
	rejected.AdjustmentAmount = rejected.TotalChargeAmount

	added, err := store.AddClaimToBucket(ctx, bucket.BucketID, rejected)
	require.NoError(t, err)
	assert.True(t, added)

	got, err := store.GetBucket(ctx, bucket.BucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ClaimCount)
	assert.Equal(t, int64(1), got.RejectionCount)
	assert.True(t, got.TotalAmount.IsZero(), "total = %s", got.TotalAmount)
}

func TestAddClaimToClosedBucketConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bucket := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, bucket))
	seeded := newTestClaim("claim-0", "PAYER1", "PAYEE1")
	added, err := store.AddClaimToBucket(ctx, bucket.BucketID, seeded)
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, store.TransitionBucket(ctx, bucket.BucketID,
		types.BucketAccumulating, types.BucketGenerating, nil))

	claim := newTestClaim("claim-1", "PAYER1", "PAYEE1")
	_, err = store.AddClaimToBucket(ctx, bucket.BucketID, claim)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// The failed add writes nothing: the closed bucket's aggregates still
	// match its processing log exactly.
	got, err := store.GetBucket(ctx, bucket.BucketID)
	require.NoError(t, err)
	count, total, err := store.BucketAggregate(ctx, bucket.BucketID)
	require.NoError(t, err)
	assert.Equal(t, got.ClaimCount, count)
	assert.Equal(t, int64(1), count)
	assert.True(t, got.TotalAmount.Equal(total), "total %s vs log %s", got.TotalAmount, total)

	// No stale log row pins the claim: it is still free to land elsewhere.
	fresh := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, fresh))
	added, err = store.AddClaimToBucket(ctx, fresh.BucketID, claim)
	require.NoError(t, err)
	assert.True(t, added)

	freshGot, err := store.GetBucket(ctx, fresh.BucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), freshGot.ClaimCount)
	count, total, err = store.BucketAggregate(ctx, fresh.BucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.True(t, freshGot.TotalAmount.Equal(total))
}

func TestTransitionBucketOptimistic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bucket := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, bucket))

	now := time.Now().UTC()
	stamp := &storage.BucketStamp{AwaitingApprovalSince: &now}
	require.NoError(t, store.TransitionBucket(ctx, bucket.BucketID,
		types.BucketAccumulating, types.BucketPendingApproval, stamp))

	got, err := store.GetBucket(ctx, bucket.BucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketPendingApproval, got.Status)
	require.NotNil(t, got.AwaitingApprovalSince)

	// Stale precondition: the bucket already left ACCUMULATING.
	err = store.TransitionBucket(ctx, bucket.BucketID,
		types.BucketAccumulating, types.BucketGenerating, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Illegal edge is rejected before touching the row.
	err = store.TransitionBucket(ctx, bucket.BucketID,
		types.BucketPendingApproval, types.BucketCompleted, nil)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestApprovalLogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bucket := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, bucket))

	require.NoError(t, store.AppendApprovalLog(ctx, &types.BucketApprovalEntry{
		BucketID: bucket.BucketID,
		Action:   "APPROVED",
		Actor:    "finance-ops",
		Comments: "weekly release",
	}))

	entries, err := store.ApprovalLog(ctx, bucket.BucketID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "APPROVED", entries[0].Action)
	assert.Equal(t, "finance-ops", entries[0].Actor)
}

func TestClaimsOfBucket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bucket := newTestBucket("rule-1", "PAYER1", "PAYEE1")
	require.NoError(t, store.CreateBucket(ctx, bucket))

	for _, id := range []string{"claim-1", "claim-2"} {
		claim := newTestClaim(id, "PAYER1", "PAYEE1")
		require.NoError(t, store.CreateClaim(ctx, claim))
		added, err := store.AddClaimToBucket(ctx, bucket.BucketID, claim)
		require.NoError(t, err)
		require.True(t, added)
	}

	claims, err := store.ClaimsOfBucket(ctx, bucket.BucketID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
}
