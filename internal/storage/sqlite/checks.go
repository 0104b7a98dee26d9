package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

const reservationColumns = `id, payer_id, check_number_start, check_number_end,
	total_checks, checks_used, bank_name, routing_number, account_last4,
	status, created_at`

// CreateReservation inserts a pre-allocated check range.
func (q *queries) CreateReservation(ctx context.Context, r *types.CheckReservation) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Status == "" {
		r.Status = types.ReservationActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO check_reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PayerID, r.CheckNumberStart, r.CheckNumberEnd, r.TotalChecks,
		r.ChecksUsed, r.BankName, r.RoutingNumber, r.AccountLast4,
		string(r.Status), r.CreatedAt)
	return wrapDBErrorf(err, "create reservation for payer %s", r.PayerID)
}

func scanReservation(row interface {
	Scan(dest ...interface{}) error
}) (*types.CheckReservation, error) {
	var r types.CheckReservation
	var status string
	err := row.Scan(&r.ID, &r.PayerID, &r.CheckNumberStart, &r.CheckNumberEnd,
		&r.TotalChecks, &r.ChecksUsed, &r.BankName, &r.RoutingNumber,
		&r.AccountLast4, &status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = types.ReservationStatus(status)
	return &r, nil
}

// GetReservation fetches one reservation by id.
func (q *queries) GetReservation(ctx context.Context, id string) (*types.CheckReservation, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM check_reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get reservation %s", id)
	}
	return r, nil
}

// OldestActiveReservation returns the oldest ACTIVE reservation for a payer,
// or storage.ErrNotFound.
func (q *queries) OldestActiveReservation(ctx context.Context, payerID string) (*types.CheckReservation, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM check_reservations
		WHERE payer_id = ? AND status = 'ACTIVE'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, payerID)
	r, err := scanReservation(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "oldest active reservation for payer %s", payerID)
	}
	return r, nil
}

// ConsumeReservation atomically increments checks_used on an ACTIVE
// reservation with headroom and flips it to EXHAUSTED when the last number
// is taken. Returns the reservation after the increment; the caller derives
// the allocated number from checks_used - 1.
func (q *queries) ConsumeReservation(ctx context.Context, id string) (*types.CheckReservation, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE check_reservations
		SET checks_used = checks_used + 1,
		    status = CASE WHEN checks_used + 1 >= total_checks THEN 'EXHAUSTED' ELSE status END
		WHERE id = ? AND status = 'ACTIVE' AND checks_used < total_checks`, id)
	if err != nil {
		return nil, wrapDBErrorf(err, "consume reservation %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, wrapDBError("consume reservation rows affected", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("reservation %s not consumable: %w", id, storage.ErrConflict)
	}
	return q.GetReservation(ctx, id)
}

const checkColumns = `id, bucket_id, check_number, check_amount, check_date,
	bank_name, routing_number, account_last4, status, reservation_id,
	issued_at, created_at, updated_at`

// CreateCheckPayment inserts a check payment row.
func (q *queries) CreateCheckPayment(ctx context.Context, c *types.CheckPayment) error {
	if c.ID == "" {
		c.ID = newID()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO check_payments (`+checkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BucketID, c.CheckNumber, decToDB(c.CheckAmount), c.CheckDate,
		c.BankName, c.RoutingNumber, c.AccountLast4, string(c.Status),
		c.ReservationID, nullTime(c.IssuedAt), c.CreatedAt, c.UpdatedAt)
	return wrapDBErrorf(err, "create check payment %s", c.CheckNumber)
}

func scanCheck(row interface {
	Scan(dest ...interface{}) error
}) (*types.CheckPayment, error) {
	var c types.CheckPayment
	var status, amount string
	var issued sql.NullTime
	err := row.Scan(&c.ID, &c.BucketID, &c.CheckNumber, &amount, &c.CheckDate,
		&c.BankName, &c.RoutingNumber, &c.AccountLast4, &status,
		&c.ReservationID, &issued, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = types.CheckStatus(status)
	c.CheckAmount = decFromDB(amount)
	c.IssuedAt = timePtr(issued)
	return &c, nil
}

// GetCheckPayment fetches one check by id.
func (q *queries) GetCheckPayment(ctx context.Context, id string) (*types.CheckPayment, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM check_payments WHERE id = ?`, id)
	c, err := scanCheck(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get check payment %s", id)
	}
	return c, nil
}

// GetCheckByNumber fetches the most recent check with the given number.
func (q *queries) GetCheckByNumber(ctx context.Context, number string) (*types.CheckPayment, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+checkColumns+` FROM check_payments
		WHERE check_number = ? ORDER BY created_at DESC LIMIT 1`, number)
	c, err := scanCheck(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get check by number %s", number)
	}
	return c, nil
}

// ActiveCheckForBucket returns the bucket's current non-void, non-cancelled
// check, or storage.ErrNotFound.
func (q *queries) ActiveCheckForBucket(ctx context.Context, bucketID string) (*types.CheckPayment, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+checkColumns+` FROM check_payments
		WHERE bucket_id = ? AND status NOT IN ('VOID','CANCELLED')
		ORDER BY created_at DESC LIMIT 1`, bucketID)
	c, err := scanCheck(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "active check for bucket %s", bucketID)
	}
	return c, nil
}

// UpdateCheckStatus transitions a check with an optimistic precondition on
// its current status.
func (q *queries) UpdateCheckStatus(ctx context.Context, id string, from, to types.CheckStatus, issuedAt *time.Time) error {
	query := `UPDATE check_payments SET status = ?, updated_at = ?`
	args := []interface{}{string(to), time.Now().UTC()}
	if issuedAt != nil {
		query += `, issued_at = ?`
		args = append(args, *issuedAt)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBErrorf(err, "update check %s %s -> %s", id, from, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("update check rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("check %s not in %s: %w", id, from, storage.ErrConflict)
	}
	return nil
}

// CountChecksForReservation counts non-cancelled checks drawn from a
// reservation. Used to verify the checks_used invariant.
func (q *queries) CountChecksForReservation(ctx context.Context, reservationID string) (int64, error) {
	var n int64
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM check_payments
		WHERE reservation_id = ? AND status != 'CANCELLED'`, reservationID).Scan(&n)
	return n, wrapDBErrorf(err, "count checks for reservation %s", reservationID)
}

// AppendCheckAudit writes one check audit row.
func (q *queries) AppendCheckAudit(ctx context.Context, entry *types.CheckAuditEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO check_audit_log (id, check_id, action, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CheckID, entry.Action, entry.Actor, entry.Detail, entry.CreatedAt)
	return wrapDBErrorf(err, "append check audit for %s", entry.CheckID)
}

// CheckAudit returns the audit trail for a check, oldest first.
func (q *queries) CheckAudit(ctx context.Context, checkID string) ([]*types.CheckAuditEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, check_id, action, actor, detail, created_at
		FROM check_audit_log WHERE check_id = ? ORDER BY created_at ASC, id ASC`, checkID)
	if err != nil {
		return nil, wrapDBErrorf(err, "check audit for %s", checkID)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.CheckAuditEntry
	for rows.Next() {
		var e types.CheckAuditEntry
		if err := rows.Scan(&e.ID, &e.CheckID, &e.Action, &e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, wrapDBError("scan check audit", err)
		}
		out = append(out, &e)
	}
	return out, wrapDBError("iterate check audit", rows.Err())
}
