package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/remitflow/remitflow/internal/types"
)

const rawClaimColumns = `id, payer_id, pharmacy_id, transaction_id, raw_content,
	transaction_type, service_date, patient_id, prescription_number, status,
	created_date, processing_started_date, processed_date, claim_id,
	error_message, retry_count`

// CreateRawClaim inserts a raw NCPDP row. A missing ID or created date is
// assigned here.
func (q *queries) CreateRawClaim(ctx context.Context, raw *types.RawNcpdpClaim) error {
	if raw.ID == "" {
		raw.ID = newID()
	}
	if raw.Status == "" {
		raw.Status = types.RawPending
	}
	if raw.CreatedDate.IsZero() {
		raw.CreatedDate = time.Now().UTC()
	}
	if err := raw.Validate(); err != nil {
		return err
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO raw_ncpdp_claims (`+rawClaimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, raw.ID, raw.PayerID, raw.PharmacyID, raw.TransactionID, raw.RawContent,
		raw.TransactionType, nullTime(raw.ServiceDate), raw.PatientID,
		raw.PrescriptionNumber, string(raw.Status), raw.CreatedDate,
		nullTime(raw.ProcessingStartedDate), nullTime(raw.ProcessedDate),
		raw.ClaimID, raw.ErrorMessage, raw.RetryCount)
	return wrapDBErrorf(err, "create raw claim %s", raw.ID)
}

func scanRawClaim(row interface {
	Scan(dest ...interface{}) error
}) (*types.RawNcpdpClaim, error) {
	var r types.RawNcpdpClaim
	var status string
	var serviceDate, startedAt, processedAt sql.NullTime
	err := row.Scan(&r.ID, &r.PayerID, &r.PharmacyID, &r.TransactionID,
		&r.RawContent, &r.TransactionType, &serviceDate, &r.PatientID,
		&r.PrescriptionNumber, &status, &r.CreatedDate, &startedAt,
		&processedAt, &r.ClaimID, &r.ErrorMessage, &r.RetryCount)
	if err != nil {
		return nil, err
	}
	r.Status = types.RawClaimStatus(status)
	r.ServiceDate = timePtr(serviceDate)
	r.ProcessingStartedDate = timePtr(startedAt)
	r.ProcessedDate = timePtr(processedAt)
	return &r, nil
}

// GetRawClaim fetches one raw row by id.
func (q *queries) GetRawClaim(ctx context.Context, id string) (*types.RawNcpdpClaim, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+rawClaimColumns+` FROM raw_ncpdp_claims WHERE id = ?`, id)
	raw, err := scanRawClaim(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get raw claim %s", id)
	}
	return raw, nil
}

// PendingRawClaims returns up to limit PENDING rows in FIFO order (oldest
// created_date first).
func (q *queries) PendingRawClaims(ctx context.Context, limit int) ([]*types.RawNcpdpClaim, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+rawClaimColumns+` FROM raw_ncpdp_claims
		WHERE status = 'PENDING'
		ORDER BY created_date ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, wrapDBError("list pending raw claims", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.RawNcpdpClaim
	for rows.Next() {
		r, err := scanRawClaim(rows)
		if err != nil {
			return nil, wrapDBError("scan pending raw claim", err)
		}
		out = append(out, r)
	}
	return out, wrapDBError("iterate pending raw claims", rows.Err())
}

// ClaimRawForProcessing atomically transitions PENDING -> PROCESSING.
// Returns false when another worker already claimed the row.
func (q *queries) ClaimRawForProcessing(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PROCESSING', processing_started_date = ?
		WHERE id = ? AND status = 'PENDING'`, now, id)
	if err != nil {
		return false, wrapDBErrorf(err, "claim raw %s for processing", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBErrorf(err, "claim raw %s rows affected", id)
	}
	return n == 1, nil
}

// MarkRawProcessed finalizes a row as PROCESSED with its claim linkage.
func (q *queries) MarkRawProcessed(ctx context.Context, id, claimID string, now time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PROCESSED', claim_id = ?, processed_date = ?, error_message = ''
		WHERE id = ? AND status = 'PROCESSING'`, claimID, now, id)
	if err != nil {
		return wrapDBErrorf(err, "mark raw %s processed", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapDBErrorf(sql.ErrNoRows, "mark raw %s processed (not PROCESSING)", id)
	}
	return nil
}

// MarkRawFailed records a failure on a PROCESSING row.
func (q *queries) MarkRawFailed(ctx context.Context, id, errorMessage string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'FAILED', error_message = ?, processed_date = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PROCESSING'`, errorMessage, id)
	if err != nil {
		return wrapDBErrorf(err, "mark raw %s failed", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapDBErrorf(sql.ErrNoRows, "mark raw %s failed (not PROCESSING)", id)
	}
	return nil
}

// ResetFailedRawClaims returns FAILED rows under the retry cap to PENDING,
// incrementing their retry count and clearing the error. Returns the number
// of rows reset.
func (q *queries) ResetFailedRawClaims(ctx context.Context, maxRetries int) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PENDING', retry_count = retry_count + 1, error_message = '',
		    processing_started_date = NULL, processed_date = NULL
		WHERE status = 'FAILED' AND retry_count < ?`, maxRetries)
	if err != nil {
		return 0, wrapDBError("reset failed raw claims", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("reset failed raw claims rows affected", err)
}

// ResetStuckRawClaims returns PROCESSING rows whose processing started
// before olderThan to PENDING with the given message.
func (q *queries) ResetStuckRawClaims(ctx context.Context, olderThan time.Time, message string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE raw_ncpdp_claims
		SET status = 'PENDING', error_message = ?, processing_started_date = NULL
		WHERE status = 'PROCESSING' AND processing_started_date < ?`, message, olderThan)
	if err != nil {
		return 0, wrapDBError("reset stuck raw claims", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("reset stuck raw claims rows affected", err)
}

// AppendNcpdpLog writes one audit row for a raw claim transition.
func (q *queries) AppendNcpdpLog(ctx context.Context, entry *types.NcpdpProcessingEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO ncpdp_processing_log (id, raw_claim_id, from_status, to_status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RawClaimID, entry.FromStatus, entry.ToStatus, entry.Message, entry.CreatedAt)
	return wrapDBErrorf(err, "append ncpdp log for %s", entry.RawClaimID)
}

// NcpdpLog returns the audit rows for a raw claim, oldest first.
func (q *queries) NcpdpLog(ctx context.Context, rawClaimID string) ([]*types.NcpdpProcessingEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, raw_claim_id, from_status, to_status, message, created_at
		FROM ncpdp_processing_log WHERE raw_claim_id = ? ORDER BY created_at ASC, id ASC`, rawClaimID)
	if err != nil {
		return nil, wrapDBErrorf(err, "ncpdp log for %s", rawClaimID)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.NcpdpProcessingEntry
	for rows.Next() {
		var e types.NcpdpProcessingEntry
		if err := rows.Scan(&e.ID, &e.RawClaimID, &e.FromStatus, &e.ToStatus, &e.Message, &e.CreatedAt); err != nil {
			return nil, wrapDBError("scan ncpdp log", err)
		}
		out = append(out, &e)
	}
	return out, wrapDBError("iterate ncpdp log", rows.Err())
}
