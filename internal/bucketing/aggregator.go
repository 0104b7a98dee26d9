package bucketing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

// addAttempts bounds the find-or-create loop against races where the target
// bucket leaves ACCUMULATING between lookup and add.
const addAttempts = 3

// Evaluator is notified after a claim lands in a bucket. The lifecycle
// implements it; tests stub it.
type Evaluator interface {
	EvaluateBucket(ctx context.Context, bucketID string) error
}

// Aggregator routes canonical claims into open buckets.
type Aggregator struct {
	store     storage.Store
	evaluator Evaluator
	logger    *log.Logger

	routed  atomic.Int64
	dropped atomic.Int64
}

// NewAggregator creates a claim aggregator. evaluator may be nil, in which
// case threshold evaluation is left to the periodic sweep.
func NewAggregator(store storage.Store, evaluator Evaluator, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{store: store, evaluator: evaluator, logger: logger}
}

// Route places one claim into its bucket, creating the bucket when no open
// one exists. Idempotent keyed by claim id: replays are no-ops. A claim with
// no applicable rule is dropped with a warning and not accounted.
func (a *Aggregator) Route(ctx context.Context, claim *types.Claim) error {
	rules, err := a.store.ActiveBucketingRules(ctx)
	if err != nil {
		return fmt.Errorf("bucketing: load rules: %w", err)
	}
	rule := SelectRule(rules, claim)
	if rule == nil {
		a.dropped.Add(1)
		a.logger.Printf("bucketing: no active rules, dropping claim %s (payer=%s payee=%s)",
			claim.ID, claim.PayerID, claim.PayeeID)
		return nil
	}

	bin, pcn := bucketScope(rule, claim)

	var lastErr error
	for attempt := 0; attempt < addAttempts; attempt++ {
		bucket, err := a.openOrCreate(ctx, rule, claim, bin, pcn)
		if err != nil {
			return err
		}
		added, err := a.store.AddClaimToBucket(ctx, bucket.BucketID, claim)
		if errors.Is(err, storage.ErrConflict) {
			// The bucket closed under us; find or create a fresh one.
			lastErr = err
			continue
		}
		if err != nil {
			return fmt.Errorf("bucketing: add claim %s to bucket %s: %w", claim.ID, bucket.BucketID, err)
		}
		if added {
			a.routed.Add(1)
			if a.evaluator != nil {
				if err := a.evaluator.EvaluateBucket(ctx, bucket.BucketID); err != nil {
					a.logger.Printf("bucketing: evaluate bucket %s: %v", bucket.BucketID, err)
				}
			}
		}
		return nil
	}
	return fmt.Errorf("bucketing: claim %s: bucket kept closing: %w", claim.ID, lastErr)
}

func (a *Aggregator) openOrCreate(ctx context.Context, rule *types.BucketingRule, claim *types.Claim, bin, pcn string) (*types.Bucket, error) {
	bucket, err := a.store.OpenBucket(ctx, rule.ID, claim.PayerID, claim.PayeeID, bin, pcn)
	if err == nil {
		return bucket, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("bucketing: find open bucket: %w", err)
	}

	fresh := &types.Bucket{
		BucketingRuleID: rule.ID,
		PayerID:         claim.PayerID,
		PayeeID:         claim.PayeeID,
		BinNumber:       bin,
		PcnNumber:       pcn,
	}
	err = a.store.CreateBucket(ctx, fresh)
	if errors.Is(err, storage.ErrConflict) {
		// Lost the create race; the winner's bucket is the open one.
		return a.store.OpenBucket(ctx, rule.ID, claim.PayerID, claim.PayeeID, bin, pcn)
	}
	if err != nil {
		return nil, fmt.Errorf("bucketing: create bucket: %w", err)
	}
	a.logger.Printf("bucketing: opened bucket %s (rule=%s payer=%s payee=%s)",
		fresh.BucketID, rule.RuleName, claim.PayerID, claim.PayeeID)
	return fresh, nil
}

// Routed returns the number of claims added to buckets.
func (a *Aggregator) Routed() int64 { return a.routed.Load() }

// Dropped returns the number of claims dropped for lack of rules.
func (a *Aggregator) Dropped() int64 { return a.dropped.Load() }
