package bucketing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remitflow/remitflow/internal/eventbus"
	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/storage/sqlite"
	"github.com/remitflow/remitflow/internal/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.NextFeedVersion(ctx)
	require.NoError(t, err)
	return store
}

func seedRule(t *testing.T, store *sqlite.Store, id string, ruleType types.RuleType, priority int) *types.BucketingRule {
	t.Helper()
	rule := &types.BucketingRule{
		ID:       id,
		RuleName: "rule " + id,
		RuleType: ruleType,
		Priority: priority,
		IsActive: true,
	}
	require.NoError(t, store.CreateBucketingRule(context.Background(), rule))
	return rule
}

func seedCountThreshold(t *testing.T, store *sqlite.Store, ruleID string, maxClaims int64) *types.GenerationThreshold {
	t.Helper()
	th := &types.GenerationThreshold{
		ID:                    "th-" + ruleID,
		ThresholdName:         "count threshold",
		ThresholdType:         types.ThresholdClaimCount,
		MaxClaims:             &maxClaims,
		LinkedBucketingRuleID: ruleID,
		IsActive:              true,
	}
	require.NoError(t, store.CreateThreshold(context.Background(), th))
	return th
}

func seedCommit(t *testing.T, store *sqlite.Store, ruleID string, mode types.CommitMode) {
	t.Helper()
	require.NoError(t, store.CreateCommitCriteria(context.Background(), &types.CommitCriteria{
		ID:                    "cc-" + ruleID,
		CommitMode:            mode,
		LinkedBucketingRuleID: ruleID,
		IsActive:              true,
	}))
}

func newClaim(id, payerID, payeeID string, paid float64) *types.Claim {
	amount := decimal.NewFromFloat(paid)
	return &types.Claim{
		ID:                id,
		PayerID:           payerID,
		PayeeID:           payeeID,
		ServiceDate:       time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		TotalChargeAmount: amount,
		PaidAmount:        amount,
		Status:            types.ClaimPaid,
	}
}

func TestRouteAccumulatesClaims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)

	agg := NewAggregator(store, nil, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 90.00)))
	require.NoError(t, agg.Route(ctx, newClaim("c2", "BCBS_CA", "CVS-001", 10.50)))

	bucket, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bucket.ClaimCount)
	assert.True(t, bucket.TotalAmount.Equal(decimal.NewFromFloat(100.50)),
		"total %s", bucket.TotalAmount)
	assert.Equal(t, int64(2), agg.Routed())
}

func TestRouteIsIdempotentPerClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)

	agg := NewAggregator(store, nil, nil)
	claim := newClaim("c1", "BCBS_CA", "CVS-001", 90.00)
	require.NoError(t, agg.Route(ctx, claim))
	require.NoError(t, agg.Route(ctx, claim))

	bucket, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bucket.ClaimCount)
	assert.Equal(t, int64(1), agg.Routed())
}

func TestRouteSeparatesPayerPayeePairs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)

	agg := NewAggregator(store, nil, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 90.00)))
	require.NoError(t, agg.Route(ctx, newClaim("c2", "CAREMARK", "CVS-001", 50.00)))

	first, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	second, err := store.OpenBucket(ctx, rule.ID, "CAREMARK", "CVS-001", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.BucketID, second.BucketID)
	assert.Equal(t, int64(1), first.ClaimCount)
	assert.Equal(t, int64(1), second.ClaimCount)
}

func TestRouteBinPcnScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RuleBinPcn, 10)

	agg := NewAggregator(store, nil, nil)
	a := newClaim("c1", "BCBS_CA", "CVS-001", 90.00)
	a.BinNumber, a.PcnNumber = "610020", "PCNA"
	b := newClaim("c2", "BCBS_CA", "CVS-001", 50.00)
	b.BinNumber, b.PcnNumber = "004336", "PCNB"
	require.NoError(t, agg.Route(ctx, a))
	require.NoError(t, agg.Route(ctx, b))

	first, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "610020", "PCNA")
	require.NoError(t, err)
	second, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "004336", "PCNB")
	require.NoError(t, err)
	assert.NotEqual(t, first.BucketID, second.BucketID)
}

func TestRouteDropsWithoutRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agg := NewAggregator(store, nil, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 90.00)))

	assert.Equal(t, int64(1), agg.Dropped())
	assert.Equal(t, int64(0), agg.Routed())
	buckets, err := store.BucketsByStatus(ctx, types.BucketAccumulating)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestRejectedClaimCountsRejectionOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)

	agg := NewAggregator(store, nil, nil)
	denied := newClaim("c1", "BCBS_CA", "CVS-001", 0)
	denied.Status = types.ClaimDenied
	denied.TotalChargeAmount = decimal.NewFromFloat(75.00)
	denied.PaidAmount = decimal.Zero
	denied.AdjustmentAmount = decimal.NewFromFloat(75.00)
	require.NoError(t, agg.Route(ctx, denied))

	bucket, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bucket.ClaimCount)
	assert.Equal(t, int64(1), bucket.RejectionCount)
	assert.True(t, bucket.TotalAmount.IsZero(), "total %s", bucket.TotalAmount)
}

func TestAutoCommitFiresAtClaimCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 2)
	seedCommit(t, store, rule.ID, types.CommitAuto)

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)

	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))
	first, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, types.BucketAccumulating, first.Status)

	// Second claim hits the count threshold and fires the bucket.
	require.NoError(t, agg.Route(ctx, newClaim("c2", "BCBS_CA", "CVS-001", 25.00)))
	fired, err := store.GetBucket(ctx, first.BucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketGenerating, fired.Status)
	assert.NotNil(t, fired.GenerationStartedAt)

	// A third claim opens a fresh bucket for the same identity.
	require.NoError(t, agg.Route(ctx, newClaim("c3", "BCBS_CA", "CVS-001", 10.00)))
	next, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.BucketID, next.BucketID)
	assert.Equal(t, int64(1), next.ClaimCount)
}

func TestMissingCommitCriteriaDefaultsToAuto(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 1)

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	buckets, err := store.BucketsByStatus(ctx, types.BucketGenerating)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
}

func TestAmountThresholdFires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	require.NoError(t, store.CreateThreshold(ctx, &types.GenerationThreshold{
		ID:                    "th-amount",
		ThresholdName:         "amount threshold",
		ThresholdType:         types.ThresholdAmount,
		MaxAmount:             decimal.NewFromFloat(100.00),
		HasMaxAmount:          true,
		LinkedBucketingRuleID: rule.ID,
		IsActive:              true,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)

	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 60.00)))
	require.NoError(t, agg.Route(ctx, newClaim("c2", "BCBS_CA", "CVS-001", 45.00)))

	buckets, err := store.BucketsByStatus(ctx, types.BucketGenerating)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].TotalAmount.Equal(decimal.NewFromFloat(105.00)))
}

func TestTimeThresholdFiresOnSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	require.NoError(t, store.CreateThreshold(ctx, &types.GenerationThreshold{
		ID:                    "th-time",
		ThresholdName:         "daily window",
		ThresholdType:         types.ThresholdTime,
		TimeDuration:          types.DurationDaily,
		LinkedBucketingRuleID: rule.ID,
		IsActive:              true,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, nil, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	// Within the day: nothing fires.
	require.NoError(t, lc.Sweep(ctx))
	open, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, types.BucketAccumulating, open.Status)

	// Past the next midnight the sweep fires the bucket.
	lc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	require.NoError(t, lc.Sweep(ctx))
	fired, err := store.GetBucket(ctx, open.BucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketGenerating, fired.Status)
}

func TestCronScheduleFires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	require.NoError(t, store.CreateThreshold(ctx, &types.GenerationThreshold{
		ID:                    "th-cron",
		ThresholdName:         "nightly schedule",
		ThresholdType:         types.ThresholdTime,
		GenerationSchedule:    "0 2 * * *",
		LinkedBucketingRuleID: rule.ID,
		IsActive:              true,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, nil, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	lc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	require.NoError(t, lc.Sweep(ctx))

	buckets, err := store.BucketsByStatus(ctx, types.BucketGenerating)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
}

func TestHybridThresholdRequiresAllConditions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	maxClaims := int64(2)
	require.NoError(t, store.CreateThreshold(ctx, &types.GenerationThreshold{
		ID:                    "th-hybrid",
		ThresholdName:         "hybrid",
		ThresholdType:         types.ThresholdHybrid,
		MaxClaims:             &maxClaims,
		MaxAmount:             decimal.NewFromFloat(100.00),
		HasMaxAmount:          true,
		LinkedBucketingRuleID: rule.ID,
		IsActive:              true,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)

	// Count satisfied, amount not: still accumulating.
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 20.00)))
	require.NoError(t, agg.Route(ctx, newClaim("c2", "BCBS_CA", "CVS-001", 30.00)))
	open, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, types.BucketAccumulating, open.Status)

	require.NoError(t, agg.Route(ctx, newClaim("c3", "BCBS_CA", "CVS-001", 60.00)))
	fired, err := store.GetBucket(ctx, open.BucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketGenerating, fired.Status)
}

func TestManualCommitParksForApproval(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 1)
	seedCommit(t, store, rule.ID, types.CommitManual)

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	buckets, err := store.BucketsByStatus(ctx, types.BucketPendingApproval)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.NotNil(t, buckets[0].AwaitingApprovalSince)
}

func TestHybridCommitUsesAutoThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 1)
	auto := int64(5)
	require.NoError(t, store.CreateCommitCriteria(ctx, &types.CommitCriteria{
		ID:                    "cc-hybrid",
		CommitMode:            types.CommitHybrid,
		AutoCommitThreshold:   &auto,
		LinkedBucketingRuleID: rule.ID,
		IsActive:              true,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)

	// Small bucket commits automatically.
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))
	generating, err := store.BucketsByStatus(ctx, types.BucketGenerating)
	require.NoError(t, err)
	require.Len(t, generating, 1)
}

func TestApproveWithoutCheckIsBlocked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	th := seedCountThreshold(t, store, rule.ID, 1)
	seedCommit(t, store, rule.ID, types.CommitManual)
	require.NoError(t, store.CreateWorkflowConfig(ctx, &types.CheckPaymentWorkflowConfig{
		ID:                "wc-1",
		WorkflowMode:      types.WorkflowCombined,
		AssignmentMode:    types.AssignManual,
		LinkedThresholdID: th.ID,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	pending, err := store.BucketsByStatus(ctx, types.BucketPendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	bucketID := pending[0].BucketID

	err = lc.Approve(ctx, bucketID, "reviewer", "")
	var pr *PaymentRequiredError
	require.ErrorAs(t, err, &pr)
	assert.Equal(t, bucketID, pr.BucketID)

	unchanged, err := store.GetBucket(ctx, bucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketPendingApproval, unchanged.Status)

	// With an assigned check the approval goes through.
	require.NoError(t, store.CreateCheckPayment(ctx, &types.CheckPayment{
		ID:          "chk-1",
		BucketID:    bucketID,
		CheckNumber: "CHK001001",
		CheckAmount: decimal.NewFromFloat(50.00),
		CheckDate:   time.Now().UTC(),
		Status:      types.CheckAssigned,
	}))
	require.NoError(t, lc.Approve(ctx, bucketID, "reviewer", "looks right"))

	approved, err := store.GetBucket(ctx, bucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketGenerating, approved.Status)
	assert.Equal(t, "reviewer", approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.AwaitingApprovalSince)

	trail, err := store.ApprovalLog(ctx, bucketID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "APPROVED", trail[0].Action)
	assert.Equal(t, "reviewer", trail[0].Actor)
}

func TestApproveRequiresAcknowledgmentWhenConfigured(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	th := seedCountThreshold(t, store, rule.ID, 1)
	seedCommit(t, store, rule.ID, types.CommitManual)
	require.NoError(t, store.CreateWorkflowConfig(ctx, &types.CheckPaymentWorkflowConfig{
		ID:                    "wc-1",
		WorkflowMode:          types.WorkflowSeparate,
		AssignmentMode:        types.AssignManual,
		RequireAcknowledgment: true,
		LinkedThresholdID:     th.ID,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	pending, err := store.BucketsByStatus(ctx, types.BucketPendingApproval)
	require.NoError(t, err)
	bucketID := pending[0].BucketID

	require.NoError(t, store.CreateCheckPayment(ctx, &types.CheckPayment{
		ID:          "chk-1",
		BucketID:    bucketID,
		CheckNumber: "CHK001001",
		CheckDate:   time.Now().UTC(),
		Status:      types.CheckAssigned,
	}))

	var pr *PaymentRequiredError
	require.ErrorAs(t, lc.Approve(ctx, bucketID, "reviewer", ""), &pr)

	require.NoError(t, store.UpdateCheckStatus(ctx, "chk-1", types.CheckAssigned, types.CheckAcknowledged, nil))
	require.NoError(t, lc.Approve(ctx, bucketID, "reviewer", ""))
}

func TestRejectReturnsBucketToAccumulating(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 2)
	seedCommit(t, store, rule.ID, types.CommitManual)

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))
	require.NoError(t, agg.Route(ctx, newClaim("c2", "BCBS_CA", "CVS-001", 25.00)))

	pending, err := store.BucketsByStatus(ctx, types.BucketPendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	bucketID := pending[0].BucketID

	require.NoError(t, lc.Reject(ctx, bucketID, "reviewer", "needs review", "amount looks off"))

	rejected, err := store.GetBucket(ctx, bucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketAccumulating, rejected.Status)
	assert.Nil(t, rejected.AwaitingApprovalSince)
	assert.Equal(t, int64(2), rejected.ClaimCount)
	assert.True(t, rejected.TotalAmount.Equal(decimal.NewFromFloat(75.00)))

	trail, err := store.ApprovalLog(ctx, bucketID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "REJECTED", trail[0].Action)
	assert.Equal(t, "needs review", trail[0].Reason)
}

func TestBulkApproveIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	th := seedCountThreshold(t, store, rule.ID, 1)
	seedCommit(t, store, rule.ID, types.CommitManual)
	require.NoError(t, store.CreateWorkflowConfig(ctx, &types.CheckPaymentWorkflowConfig{
		ID:                "wc-1",
		WorkflowMode:      types.WorkflowCombined,
		AssignmentMode:    types.AssignManual,
		LinkedThresholdID: th.ID,
	}))

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))
	require.NoError(t, agg.Route(ctx, newClaim("c2", "CAREMARK", "CVS-001", 25.00)))

	pending, err := store.BucketsByStatus(ctx, types.BucketPendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	ids := []string{pending[0].BucketID, pending[1].BucketID}

	// Only the first bucket has a check; the batch must roll back whole.
	require.NoError(t, store.CreateCheckPayment(ctx, &types.CheckPayment{
		ID:          "chk-1",
		BucketID:    ids[0],
		CheckNumber: "CHK001001",
		CheckDate:   time.Now().UTC(),
		Status:      types.CheckAssigned,
	}))

	var pr *PaymentRequiredError
	require.ErrorAs(t, lc.BulkApprove(ctx, ids, "reviewer", ""), &pr)
	for _, id := range ids {
		b, err := store.GetBucket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.BucketPendingApproval, b.Status)
	}

	require.NoError(t, store.CreateCheckPayment(ctx, &types.CheckPayment{
		ID:          "chk-2",
		BucketID:    ids[1],
		CheckNumber: "CHK001002",
		CheckDate:   time.Now().UTC(),
		Status:      types.CheckAssigned,
	}))
	require.NoError(t, lc.BulkApprove(ctx, ids, "reviewer", ""))
	for _, id := range ids {
		b, err := store.GetBucket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.BucketGenerating, b.Status)
	}
}

func TestResolveMissingConfiguration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)

	agg := NewAggregator(store, nil, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))
	open, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)

	lc := NewLifecycle(store, nil, nil)
	require.NoError(t, lc.MarkMissingConfiguration(ctx, open.BucketID))
	parked, err := store.GetBucket(ctx, open.BucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketMissingConfig, parked.Status)

	require.NoError(t, lc.ResolveMissingConfiguration(ctx, open.BucketID))
	resolved, err := store.GetBucket(ctx, open.BucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketAccumulating, resolved.Status)
}

func TestResolveAfterApprovalResumesGenerating(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 1)
	seedCommit(t, store, rule.ID, types.CommitManual)

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	pending, err := store.BucketsByStatus(ctx, types.BucketPendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	bucketID := pending[0].BucketID
	require.NoError(t, lc.Approve(ctx, bucketID, "reviewer", ""))
	require.NoError(t, lc.MarkMissingConfiguration(ctx, bucketID))

	// The approval stands: resolution resumes generation instead of
	// sending the bucket back through the approval cycle.
	require.NoError(t, lc.ResolveMissingConfiguration(ctx, bucketID))
	resolved, err := store.GetBucket(ctx, bucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketGenerating, resolved.Status)
	assert.NotNil(t, resolved.ApprovedAt)
	assert.NotNil(t, resolved.GenerationStartedAt)
}

func TestResolveParkedPendingApprovalReturnsToPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 1)
	seedCommit(t, store, rule.ID, types.CommitManual)

	lc := NewLifecycle(store, nil, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	pending, err := store.BucketsByStatus(ctx, types.BucketPendingApproval)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	bucketID := pending[0].BucketID
	require.NoError(t, lc.MarkMissingConfiguration(ctx, bucketID))

	require.NoError(t, lc.ResolveMissingConfiguration(ctx, bucketID))
	resolved, err := store.GetBucket(ctx, bucketID)
	require.NoError(t, err)
	assert.Equal(t, types.BucketPendingApproval, resolved.Status)
	assert.NotNil(t, resolved.AwaitingApprovalSince)
}

func TestRouteLandsClaimAfterBucketCloses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)

	agg := NewAggregator(store, nil, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))
	closed, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	require.NoError(t, store.TransitionBucket(ctx, closed.BucketID,
		types.BucketAccumulating, types.BucketGenerating, nil))

	// A stale add against the closed bucket conflicts without writing a
	// processing-log row, so routing afterwards still lands the claim.
	claim := newClaim("c2", "BCBS_CA", "CVS-001", 25.00)
	_, err = store.AddClaimToBucket(ctx, closed.BucketID, claim)
	require.ErrorIs(t, err, storage.ErrConflict)
	require.NoError(t, agg.Route(ctx, claim))

	fresh, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, closed.BucketID, fresh.BucketID)
	assert.Equal(t, int64(1), fresh.ClaimCount)
	assert.True(t, fresh.TotalAmount.Equal(decimal.NewFromFloat(25.00)),
		"total %s", fresh.TotalAmount)

	// Counts and totals match the processing log on both buckets.
	for _, id := range []string{closed.BucketID, fresh.BucketID} {
		b, err := store.GetBucket(ctx, id)
		require.NoError(t, err)
		count, total, err := store.BucketAggregate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, b.ClaimCount, count, "bucket %s", id)
		assert.True(t, b.TotalAmount.Equal(total),
			"bucket %s total %s vs log %s", id, b.TotalAmount, total)
	}
}

func TestFeedHandlerRoutesClaimInserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)

	claim := newClaim("c1", "BCBS_CA", "CVS-001", 90.00)
	require.NoError(t, store.CreateClaim(ctx, claim))

	agg := NewAggregator(store, nil, nil)
	h := NewFeedHandler(store, agg, nil)
	assert.Equal(t, []string{"claims"}, h.Tables())

	require.NoError(t, h.Handle(ctx, &types.DataChange{
		TableName: "claims",
		Operation: types.OpInsert,
		RowID:     claim.ID,
	}))

	bucket, err := store.OpenBucket(ctx, rule.ID, "BCBS_CA", "CVS-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bucket.ClaimCount)

	// Updates and unknown rows are ignored.
	require.NoError(t, h.Handle(ctx, &types.DataChange{
		TableName: "claims",
		Operation: types.OpUpdate,
		RowID:     claim.ID,
	}))
	require.NoError(t, h.Handle(ctx, &types.DataChange{
		TableName: "claims",
		Operation: types.OpInsert,
		RowID:     "no-such-claim",
	}))
	bucket, err = store.GetBucket(ctx, bucket.BucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bucket.ClaimCount)
}

func TestStatusChangeEventPublished(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, store, "r1", types.RulePayerPayee, 10)
	seedCountThreshold(t, store, rule.ID, 1)

	bus := eventbus.New()
	events := make(chan *eventbus.Event, 4)
	bus.Register(&eventbus.HandlerFunc{
		HandlerID:  "recorder",
		EventTypes: []eventbus.EventType{eventbus.EventBucketStatusChanged},
		Fn: func(ctx context.Context, ev *eventbus.Event) error {
			events <- ev
			return nil
		},
	})
	bus.Start(ctx)
	defer bus.Stop()

	lc := NewLifecycle(store, bus, nil)
	agg := NewAggregator(store, lc, nil)
	require.NoError(t, agg.Route(ctx, newClaim("c1", "BCBS_CA", "CVS-001", 50.00)))

	select {
	case ev := <-events:
		assert.Equal(t, types.BucketAccumulating, ev.PreviousStatus)
		assert.Equal(t, types.BucketGenerating, ev.NewStatus)
		require.NotNil(t, ev.Bucket)
	case <-time.After(2 * time.Second):
		t.Fatal("no status change event published")
	}
}

func TestSelectRulePriorityAndFallback(t *testing.T) {
	high := &types.BucketingRule{ID: "bin", RuleType: types.RuleBinPcn, Priority: 20, IsActive: true}
	low := &types.BucketingRule{ID: "pp", RuleType: types.RulePayerPayee, Priority: 10, IsActive: true}
	inactive := &types.BucketingRule{ID: "off", RuleType: types.RulePayerPayee, Priority: 30, IsActive: false}
	rules := []*types.BucketingRule{inactive, high, low}

	withBin := &types.Claim{ID: "c1", BinNumber: "610020"}
	assert.Equal(t, "bin", SelectRule(rules, withBin).ID)

	withoutBin := &types.Claim{ID: "c2"}
	assert.Equal(t, "pp", SelectRule(rules, withoutBin).ID)

	assert.Nil(t, SelectRule([]*types.BucketingRule{inactive}, withBin))
}

func TestNextBoundary(t *testing.T) {
	base := time.Date(2026, 1, 15, 13, 45, 0, 0, time.UTC)
	cases := []struct {
		duration types.TimeDuration
		want     time.Time
	}{
		{types.DurationDaily, time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)},
		{types.DurationWeekly, time.Date(2026, 1, 22, 0, 0, 0, 0, time.UTC)},
		{types.DurationBiweekly, time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)},
		{types.DurationMonthly, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nextBoundary(base, tc.duration), string(tc.duration))
	}
	assert.True(t, nextBoundary(base, types.TimeDuration("")).IsZero())
}
