package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
	"github.com/shopspring/decimal"
)

const bucketColumns = `bucket_id, status, bucketing_rule_id, payer_id, payee_id,
	bin_number, pcn_number, claim_count, total_amount, rejection_count,
	created_at, last_updated, awaiting_approval_since, approved_at,
	approved_by, generation_started_at, generation_completed_at`

// CreateBucket inserts a new bucket. The unique partial index on the
// identity tuple rejects a second ACCUMULATING bucket for the same key with
// storage.ErrConflict.
func (q *queries) CreateBucket(ctx context.Context, b *types.Bucket) error {
	if b.BucketID == "" {
		b.BucketID = newID()
	}
	if b.Status == "" {
		b.Status = types.BucketAccumulating
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.LastUpdated = now
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO buckets (`+bucketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BucketID, string(b.Status), b.BucketingRuleID, b.PayerID, b.PayeeID,
		b.BinNumber, b.PcnNumber, b.ClaimCount, decToDB(b.TotalAmount),
		b.RejectionCount, b.CreatedAt, b.LastUpdated,
		nullTime(b.AwaitingApprovalSince), nullTime(b.ApprovedAt), b.ApprovedBy,
		nullTime(b.GenerationStartedAt), nullTime(b.GenerationCompletedAt))
	return wrapDBErrorf(err, "create bucket %s", b.BucketID)
}

func scanBucket(row interface {
	Scan(dest ...interface{}) error
}) (*types.Bucket, error) {
	var b types.Bucket
	var status, total string
	var awaiting, approved, genStart, genDone sql.NullTime
	err := row.Scan(&b.BucketID, &status, &b.BucketingRuleID, &b.PayerID,
		&b.PayeeID, &b.BinNumber, &b.PcnNumber, &b.ClaimCount, &total,
		&b.RejectionCount, &b.CreatedAt, &b.LastUpdated, &awaiting, &approved,
		&b.ApprovedBy, &genStart, &genDone)
	if err != nil {
		return nil, err
	}
	b.Status = types.BucketStatus(status)
	b.TotalAmount = decFromDB(total)
	b.AwaitingApprovalSince = timePtr(awaiting)
	b.ApprovedAt = timePtr(approved)
	b.GenerationStartedAt = timePtr(genStart)
	b.GenerationCompletedAt = timePtr(genDone)
	return &b, nil
}

// GetBucket fetches one bucket by id.
func (q *queries) GetBucket(ctx context.Context, id string) (*types.Bucket, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE bucket_id = ?`, id)
	b, err := scanBucket(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get bucket %s", id)
	}
	return b, nil
}

// OpenBucket returns the unique ACCUMULATING bucket for the identity tuple,
// or storage.ErrNotFound.
func (q *queries) OpenBucket(ctx context.Context, ruleID, payerID, payeeID, bin, pcn string) (*types.Bucket, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+bucketColumns+` FROM buckets
		WHERE status = 'ACCUMULATING'
		  AND bucketing_rule_id = ? AND payer_id = ? AND payee_id = ?
		  AND bin_number = ? AND pcn_number = ?`,
		ruleID, payerID, payeeID, bin, pcn)
	b, err := scanBucket(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "open bucket for rule %s payer %s payee %s", ruleID, payerID, payeeID)
	}
	return b, nil
}

// BucketsByStatus returns buckets in a given state, oldest first.
func (q *queries) BucketsByStatus(ctx context.Context, status types.BucketStatus) ([]*types.Bucket, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+bucketColumns+` FROM buckets WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, wrapDBErrorf(err, "buckets by status %s", status)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, wrapDBError("scan bucket", err)
		}
		out = append(out, b)
	}
	return out, wrapDBError("iterate buckets", rows.Err())
}

// AddClaimToBucket records the claim against the bucket and bumps the
// aggregates. Idempotent keyed by claim id: re-adding the same claim returns
// (false, nil) and leaves everything untouched. A bucket that is no longer
// ACCUMULATING gets storage.ErrConflict before any row is written, so a
// failed add leaves no processing-log row behind. Rejected claims do not
// contribute to total_amount but increment rejection_count.
//
// The log insert and the aggregate update must land together; run this
// inside a transaction. The Store method wraps it in one for direct callers.
func (q *queries) AddClaimToBucket(ctx context.Context, bucketID string, claim *types.Claim) (bool, error) {
	bkt, err := q.GetBucket(ctx, bucketID)
	if err != nil {
		return false, err
	}
	if bkt.Status != types.BucketAccumulating {
		return false, fmt.Errorf("bucket %s: add claim to %s bucket: %w", bucketID, bkt.Status, storage.ErrConflict)
	}

	rejected := claim.IsRejected()
	paid := claim.PaidAmount
	if rejected {
		paid = decimal.Zero
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO claim_processing_log (id, claim_id, bucket_id, paid_amount, rejected)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (claim_id) DO NOTHING`,
		newID(), claim.ID, bucketID, decToDB(paid), rejected)
	if err != nil {
		return false, wrapDBErrorf(err, "log claim %s into bucket %s", claim.ID, bucketID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("claim log rows affected", err)
	}
	if n == 0 {
		return false, nil // already added
	}

	rejectionDelta := 0
	if rejected {
		rejectionDelta = 1
	}
	// Decimal addition happens in Go-land decimals, not SQL, to avoid
	// SQLite's numeric affinity on the stored text.
	newTotal := bkt.TotalAmount.Add(paid)

	upd, err := q.q.ExecContext(ctx, `
		UPDATE buckets
		SET claim_count = claim_count + 1,
		    total_amount = ?,
		    rejection_count = rejection_count + ?,
		    last_updated = ?
		WHERE bucket_id = ? AND status = 'ACCUMULATING'`,
		decToDB(newTotal), rejectionDelta, time.Now().UTC(), bucketID)
	if err != nil {
		return false, wrapDBErrorf(err, "update aggregates of bucket %s", bucketID)
	}
	if n, _ := upd.RowsAffected(); n == 0 {
		return false, fmt.Errorf("bucket %s no longer ACCUMULATING: %w", bucketID, storage.ErrConflict)
	}
	return true, nil
}

// AddClaimToBucket runs the add atomically: the status check, the
// processing-log insert, and the aggregate update commit together or not at
// all. Shadows the promoted queries method, which callers already inside a
// transaction keep using.
func (s *Store) AddClaimToBucket(ctx context.Context, bucketID string, claim *types.Claim) (bool, error) {
	var added bool
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		added, err = tx.AddClaimToBucket(ctx, bucketID, claim)
		return err
	})
	return added, err
}

// TransitionBucket moves a bucket from one status to another with an
// optimistic precondition: when the stored status is no longer `from` the
// call fails with storage.ErrConflict and writes nothing.
func (q *queries) TransitionBucket(ctx context.Context, bucketID string, from, to types.BucketStatus, stamp *storage.BucketStamp) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("bucket %s: illegal transition %s -> %s: %w", bucketID, from, to, storage.ErrConflict)
	}

	query := `UPDATE buckets SET status = ?, last_updated = ?`
	args := []interface{}{string(to), time.Now().UTC()}
	if stamp != nil {
		if stamp.AwaitingApprovalSince != nil {
			query += `, awaiting_approval_since = ?`
			args = append(args, *stamp.AwaitingApprovalSince)
		}
		if stamp.ClearAwaitingApproval {
			query += `, awaiting_approval_since = NULL`
		}
		if stamp.ApprovedAt != nil {
			query += `, approved_at = ?`
			args = append(args, *stamp.ApprovedAt)
		}
		if stamp.ApprovedBy != "" {
			query += `, approved_by = ?`
			args = append(args, stamp.ApprovedBy)
		}
		if stamp.GenerationStartedAt != nil {
			query += `, generation_started_at = ?`
			args = append(args, *stamp.GenerationStartedAt)
		}
		if stamp.GenerationCompletedAt != nil {
			query += `, generation_completed_at = ?`
			args = append(args, *stamp.GenerationCompletedAt)
		}
	}
	query += ` WHERE bucket_id = ? AND status = ?`
	args = append(args, bucketID, string(from))

	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBErrorf(err, "transition bucket %s %s -> %s", bucketID, from, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("transition rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("bucket %s not in %s: %w", bucketID, from, storage.ErrConflict)
	}
	return nil
}

// AppendApprovalLog writes one approval-log row.
func (q *queries) AppendApprovalLog(ctx context.Context, entry *types.BucketApprovalEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO bucket_approval_log (id, bucket_id, action, actor, reason, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BucketID, entry.Action, entry.Actor, entry.Reason, entry.Comments, entry.CreatedAt)
	return wrapDBErrorf(err, "append approval log for bucket %s", entry.BucketID)
}

// ApprovalLog returns the approval history of a bucket, oldest first.
func (q *queries) ApprovalLog(ctx context.Context, bucketID string) ([]*types.BucketApprovalEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, bucket_id, action, actor, reason, comments, created_at
		FROM bucket_approval_log WHERE bucket_id = ? ORDER BY created_at ASC, id ASC`, bucketID)
	if err != nil {
		return nil, wrapDBErrorf(err, "approval log for bucket %s", bucketID)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.BucketApprovalEntry
	for rows.Next() {
		var e types.BucketApprovalEntry
		if err := rows.Scan(&e.ID, &e.BucketID, &e.Action, &e.Actor, &e.Reason, &e.Comments, &e.CreatedAt); err != nil {
			return nil, wrapDBError("scan approval log", err)
		}
		out = append(out, &e)
	}
	return out, wrapDBError("iterate approval log", rows.Err())
}

// BucketAggregate recomputes a bucket's claim count and paid total from the
// claim processing log. Used to verify the aggregate invariant.
func (q *queries) BucketAggregate(ctx context.Context, bucketID string) (int64, decimal.Decimal, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT paid_amount FROM claim_processing_log WHERE bucket_id = ?`, bucketID)
	if err != nil {
		return 0, decimal.Zero, wrapDBErrorf(err, "aggregate of bucket %s", bucketID)
	}
	defer func() { _ = rows.Close() }()

	var count int64
	total := decimal.Zero
	for rows.Next() {
		var paid string
		if err := rows.Scan(&paid); err != nil {
			return 0, decimal.Zero, wrapDBError("scan aggregate row", err)
		}
		count++
		total = total.Add(decFromDB(paid))
	}
	return count, total, wrapDBError("iterate aggregate rows", rows.Err())
}
