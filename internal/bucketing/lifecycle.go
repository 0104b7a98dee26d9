package bucketing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/remitflow/remitflow/internal/eventbus"
	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

// PaymentRequiredError blocks a transition to GENERATING until the bucket
// has an assigned (and, where required, acknowledged) check payment.
type PaymentRequiredError struct {
	BucketID string
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("bucket %s: payment required before generation", e.BucketID)
}

// cronParser accepts standard five-field cron expressions for
// generationSchedule.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Lifecycle owns bucket status transitions. Every transition publishes a
// BucketStatusChanged event; subscribers run on the bus worker pool, so
// publication never blocks a transition.
type Lifecycle struct {
	store  storage.Store
	bus    *eventbus.Bus
	logger *log.Logger
	now    func() time.Time
}

// NewLifecycle creates the bucket state machine.
func NewLifecycle(store storage.Store, bus *eventbus.Bus, logger *log.Logger) *Lifecycle {
	if logger == nil {
		logger = log.Default()
	}
	return &Lifecycle{store: store, bus: bus, logger: logger, now: time.Now}
}

// EvaluateBucket checks an ACCUMULATING bucket against its rule's active
// thresholds and fires the first one whose condition holds. Implements the
// Evaluator hook called on every add-claim; the periodic sweep calls it too.
func (l *Lifecycle) EvaluateBucket(ctx context.Context, bucketID string) error {
	bucket, err := l.store.GetBucket(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("bucketing: load bucket %s: %w", bucketID, err)
	}
	if bucket.Status != types.BucketAccumulating {
		return nil
	}

	thresholds, err := l.store.ThresholdsForRule(ctx, bucket.BucketingRuleID)
	if err != nil {
		return fmt.Errorf("bucketing: thresholds for rule %s: %w", bucket.BucketingRuleID, err)
	}
	for _, th := range thresholds {
		if !th.IsActive {
			continue
		}
		if l.thresholdFired(th, bucket) {
			return l.fire(ctx, bucket, th)
		}
	}
	return nil
}

// Sweep evaluates every ACCUMULATING bucket. Registered as a periodic task
// so TIME thresholds fire without claim traffic.
func (l *Lifecycle) Sweep(ctx context.Context) error {
	buckets, err := l.store.BucketsByStatus(ctx, types.BucketAccumulating)
	if err != nil {
		return fmt.Errorf("bucketing: sweep: %w", err)
	}
	for _, b := range buckets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.EvaluateBucket(ctx, b.BucketID); err != nil {
			var pr *PaymentRequiredError
			if errors.As(err, &pr) {
				continue // bucket waits for its check
			}
			l.logger.Printf("bucketing: sweep bucket %s: %v", b.BucketID, err)
		}
	}
	return nil
}

func (l *Lifecycle) thresholdFired(th *types.GenerationThreshold, bucket *types.Bucket) bool {
	now := l.now().UTC()

	countHit := th.MaxClaims != nil && bucket.ClaimCount >= *th.MaxClaims
	amountHit := th.HasMaxAmount && bucket.TotalAmount.GreaterThanOrEqual(th.MaxAmount)
	timeHit := l.timeBoundaryCrossed(th, bucket.CreatedAt, now)

	switch th.ThresholdType {
	case types.ThresholdClaimCount:
		return countHit
	case types.ThresholdAmount:
		return amountHit
	case types.ThresholdTime:
		return timeHit
	case types.ThresholdHybrid:
		// All conditions the threshold specifies must hold.
		if th.MaxClaims != nil && !countHit {
			return false
		}
		if th.HasMaxAmount && !amountHit {
			return false
		}
		if (th.TimeDuration != "" || th.GenerationSchedule != "") && !timeHit {
			return false
		}
		return th.MaxClaims != nil || th.HasMaxAmount || th.TimeDuration != "" || th.GenerationSchedule != ""
	}
	return false
}

// timeBoundaryCrossed reports whether a calendar boundary or cron schedule
// point has passed since the bucket was created.
func (l *Lifecycle) timeBoundaryCrossed(th *types.GenerationThreshold, createdAt, now time.Time) bool {
	if th.TimeDuration != "" {
		if boundary := nextBoundary(createdAt.UTC(), th.TimeDuration); !boundary.IsZero() && !now.Before(boundary) {
			return true
		}
	}
	if th.GenerationSchedule != "" {
		sched, err := cronParser.Parse(th.GenerationSchedule)
		if err != nil {
			l.logger.Printf("bucketing: threshold %s: bad schedule %q: %v", th.ID, th.GenerationSchedule, err)
			return false
		}
		return !now.Before(sched.Next(createdAt.UTC()))
	}
	return false
}

// nextBoundary is the first calendar rollover after t for the duration:
// next midnight for DAILY, the day-start 7/14 days on for WEEKLY/BIWEEKLY,
// the first of the next month for MONTHLY. All in UTC.
func nextBoundary(t time.Time, d types.TimeDuration) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch d {
	case types.DurationDaily:
		return day.AddDate(0, 0, 1)
	case types.DurationWeekly:
		return day.AddDate(0, 0, 7)
	case types.DurationBiweekly:
		return day.AddDate(0, 0, 14)
	case types.DurationMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
	return time.Time{}
}

// fire consults the rule's commit criteria and moves the bucket out of
// ACCUMULATING. Missing criteria default to AUTO.
func (l *Lifecycle) fire(ctx context.Context, bucket *types.Bucket, th *types.GenerationThreshold) error {
	mode := types.CommitAuto
	cc, err := l.store.CommitCriteriaForRule(ctx, bucket.BucketingRuleID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("bucketing: commit criteria for rule %s: %w", bucket.BucketingRuleID, err)
	default:
		mode = cc.CommitMode
		if mode == types.CommitHybrid {
			if cc.AutoCommitThreshold != nil && bucket.ClaimCount < *cc.AutoCommitThreshold {
				mode = types.CommitAuto
			} else {
				mode = types.CommitManual
			}
		}
	}

	if mode == types.CommitAuto {
		return l.toGenerating(ctx, l.store, bucket, th, types.BucketAccumulating, nil)
	}
	return l.toPendingApproval(ctx, bucket)
}

// toGenerating applies the payment gate and transitions from -> GENERATING.
func (l *Lifecycle) toGenerating(ctx context.Context, q storage.Querier, bucket *types.Bucket, th *types.GenerationThreshold, from types.BucketStatus, stamp *storage.BucketStamp) error {
	if err := l.checkPaymentGate(ctx, q, bucket, th); err != nil {
		return err
	}
	now := l.now().UTC()
	if stamp == nil {
		stamp = &storage.BucketStamp{}
	}
	stamp.GenerationStartedAt = &now
	if err := q.TransitionBucket(ctx, bucket.BucketID, from, types.BucketGenerating, stamp); err != nil {
		return err
	}
	l.publish(bucket, from, types.BucketGenerating)
	return nil
}

func (l *Lifecycle) toPendingApproval(ctx context.Context, bucket *types.Bucket) error {
	now := l.now().UTC()
	stamp := &storage.BucketStamp{AwaitingApprovalSince: &now}
	if err := l.store.TransitionBucket(ctx, bucket.BucketID, types.BucketAccumulating, types.BucketPendingApproval, stamp); err != nil {
		return err
	}
	l.publish(bucket, types.BucketAccumulating, types.BucketPendingApproval)
	return nil
}

// checkPaymentGate enforces the workflow config linked to the threshold: a
// non-NONE mode requires an assigned check, acknowledged when the config
// says so. th may be nil when the firing threshold is unknown (approvals),
// in which case the rule's first active threshold with a workflow config
// decides.
func (l *Lifecycle) checkPaymentGate(ctx context.Context, q storage.Querier, bucket *types.Bucket, th *types.GenerationThreshold) error {
	wc, err := l.workflowConfigFor(ctx, q, bucket, th)
	if err != nil {
		return err
	}
	if wc == nil || wc.WorkflowMode == types.WorkflowNone {
		return nil
	}

	check, err := q.ActiveCheckForBucket(ctx, bucket.BucketID)
	if errors.Is(err, storage.ErrNotFound) {
		return &PaymentRequiredError{BucketID: bucket.BucketID}
	}
	if err != nil {
		return fmt.Errorf("bucketing: active check for bucket %s: %w", bucket.BucketID, err)
	}

	switch check.Status {
	case types.CheckAcknowledged, types.CheckIssued:
		return nil
	case types.CheckAssigned:
		if wc.RequireAcknowledgment {
			return &PaymentRequiredError{BucketID: bucket.BucketID}
		}
		return nil
	default:
		return &PaymentRequiredError{BucketID: bucket.BucketID}
	}
}

func (l *Lifecycle) workflowConfigFor(ctx context.Context, q storage.Querier, bucket *types.Bucket, th *types.GenerationThreshold) (*types.CheckPaymentWorkflowConfig, error) {
	candidates := []*types.GenerationThreshold{th}
	if th == nil {
		ths, err := q.ThresholdsForRule(ctx, bucket.BucketingRuleID)
		if err != nil {
			return nil, fmt.Errorf("bucketing: thresholds for rule %s: %w", bucket.BucketingRuleID, err)
		}
		candidates = ths
	}
	for _, cand := range candidates {
		if cand == nil || !cand.IsActive {
			continue
		}
		wc, err := q.WorkflowConfigForThreshold(ctx, cand.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("bucketing: workflow config for threshold %s: %w", cand.ID, err)
		}
		return wc, nil
	}
	return nil, nil
}

// Approve moves a PENDING_APPROVAL bucket to GENERATING, subject to the
// payment gate. The bucket and its approval log are written atomically.
func (l *Lifecycle) Approve(ctx context.Context, bucketID, actor, comments string) error {
	var bucket *types.Bucket
	err := l.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		bucket, err = l.approveInTx(ctx, tx, bucketID, actor, comments)
		return err
	})
	if err != nil {
		return err
	}
	l.publish(bucket, types.BucketPendingApproval, types.BucketGenerating)
	return nil
}

func (l *Lifecycle) approveInTx(ctx context.Context, tx storage.Transaction, bucketID, actor, comments string) (*types.Bucket, error) {
	bucket, err := tx.GetBucket(ctx, bucketID)
	if err != nil {
		return nil, fmt.Errorf("bucketing: load bucket %s: %w", bucketID, err)
	}
	if bucket.Status != types.BucketPendingApproval {
		return nil, fmt.Errorf("bucketing: approve bucket %s in %s: %w", bucketID, bucket.Status, storage.ErrConflict)
	}
	if err := l.checkPaymentGate(ctx, tx, bucket, nil); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	stamp := &storage.BucketStamp{
		ApprovedAt:            &now,
		ApprovedBy:            actor,
		ClearAwaitingApproval: true,
		GenerationStartedAt:   &now,
	}
	if err := tx.TransitionBucket(ctx, bucketID, types.BucketPendingApproval, types.BucketGenerating, stamp); err != nil {
		return nil, err
	}
	return bucket, tx.AppendApprovalLog(ctx, &types.BucketApprovalEntry{
		BucketID: bucketID,
		Action:   "APPROVED",
		Actor:    actor,
		Comments: comments,
	})
}

// Reject returns a PENDING_APPROVAL bucket to ACCUMULATING with its
// aggregates untouched.
func (l *Lifecycle) Reject(ctx context.Context, bucketID, actor, reason, comments string) error {
	var bucket *types.Bucket
	err := l.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		bucket, err = tx.GetBucket(ctx, bucketID)
		if err != nil {
			return fmt.Errorf("bucketing: load bucket %s: %w", bucketID, err)
		}
		if bucket.Status != types.BucketPendingApproval {
			return fmt.Errorf("bucketing: reject bucket %s in %s: %w", bucketID, bucket.Status, storage.ErrConflict)
		}
		stamp := &storage.BucketStamp{ClearAwaitingApproval: true}
		if err := tx.TransitionBucket(ctx, bucketID, types.BucketPendingApproval, types.BucketAccumulating, stamp); err != nil {
			return err
		}
		return tx.AppendApprovalLog(ctx, &types.BucketApprovalEntry{
			BucketID: bucketID,
			Action:   "REJECTED",
			Actor:    actor,
			Reason:   reason,
			Comments: comments,
		})
	})
	if err != nil {
		return err
	}
	l.publish(bucket, types.BucketPendingApproval, types.BucketAccumulating)
	return nil
}

// BulkApprove applies Approve to each bucket in one transaction. Any
// failure rolls the whole set back; partial success is never reported as
// success.
func (l *Lifecycle) BulkApprove(ctx context.Context, bucketIDs []string, actor, comments string) error {
	approved := make([]*types.Bucket, 0, len(bucketIDs))
	err := l.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		approved = approved[:0]
		for _, id := range bucketIDs {
			bucket, err := l.approveInTx(ctx, tx, id, actor, comments)
			if err != nil {
				return err
			}
			approved = append(approved, bucket)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, bucket := range approved {
		l.publish(bucket, types.BucketPendingApproval, types.BucketGenerating)
	}
	return nil
}

// MarkMissingConfiguration parks a GENERATING bucket until the absent payer
// or payee record is created.
func (l *Lifecycle) MarkMissingConfiguration(ctx context.Context, bucketID string) error {
	bucket, err := l.store.GetBucket(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("bucketing: load bucket %s: %w", bucketID, err)
	}
	if err := l.store.TransitionBucket(ctx, bucketID, bucket.Status, types.BucketMissingConfig, nil); err != nil {
		return err
	}
	l.publish(bucket, bucket.Status, types.BucketMissingConfig)
	return nil
}

// ResolveMissingConfiguration returns a MISSING_CONFIGURATION bucket to the
// state it held before generation was attempted. An approved bucket resumes
// GENERATING directly; its approval stands and is not re-run. A bucket still
// awaiting approval returns to PENDING_APPROVAL, everything else re-opens as
// ACCUMULATING.
func (l *Lifecycle) ResolveMissingConfiguration(ctx context.Context, bucketID string) error {
	bucket, err := l.store.GetBucket(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("bucketing: load bucket %s: %w", bucketID, err)
	}
	target := types.BucketAccumulating
	var stamp *storage.BucketStamp
	switch {
	case bucket.ApprovedAt != nil:
		target = types.BucketGenerating
		now := l.now().UTC()
		stamp = &storage.BucketStamp{GenerationStartedAt: &now}
	case bucket.AwaitingApprovalSince != nil:
		target = types.BucketPendingApproval
	}
	if err := l.store.TransitionBucket(ctx, bucketID, types.BucketMissingConfig, target, stamp); err != nil {
		return err
	}
	l.publish(bucket, types.BucketMissingConfig, target)
	return nil
}

func (l *Lifecycle) publish(bucket *types.Bucket, from, to types.BucketStatus) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(&eventbus.Event{
		Type:           eventbus.EventBucketStatusChanged,
		OccurredAt:     l.now().UTC(),
		Bucket:         bucket,
		PreviousStatus: from,
		NewStatus:      to,
	})
}
