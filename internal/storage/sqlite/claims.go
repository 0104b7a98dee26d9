package sqlite

import (
	"context"
	"time"

	"github.com/remitflow/remitflow/internal/types"
)

const claimColumns = `id, payer_id, payee_id, claim_number, patient_id, patient_name,
	bin_number, pcn_number, service_date, total_charge_amount, paid_amount,
	patient_responsibility_amount, adjustment_amount, status, status_reason,
	service_lines, adjustments, created_at, updated_at`

// CreateClaim inserts a canonical claim. Service lines and adjustments are
// stored as JSON alongside the row.
func (q *queries) CreateClaim(ctx context.Context, claim *types.Claim) error {
	now := time.Now().UTC()
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = now
	}
	claim.UpdatedAt = now
	if err := claim.Validate(); err != nil {
		return err
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID, claim.PayerID, claim.PayeeID, claim.ClaimNumber,
		claim.PatientID, claim.PatientName, claim.BinNumber, claim.PcnNumber,
		claim.ServiceDate, decToDB(claim.TotalChargeAmount),
		decToDB(claim.PaidAmount), decToDB(claim.PatientResponsibilityAmount),
		decToDB(claim.AdjustmentAmount), string(claim.Status),
		claim.StatusReason, toJSON(claim.ServiceLines), toJSON(claim.Adjustments),
		claim.CreatedAt, claim.UpdatedAt)
	return wrapDBErrorf(err, "create claim %s", claim.ID)
}

func scanClaim(row interface {
	Scan(dest ...interface{}) error
}) (*types.Claim, error) {
	var c types.Claim
	var status, total, paid, patient, adjustment, lines, adjustments string
	err := row.Scan(&c.ID, &c.PayerID, &c.PayeeID, &c.ClaimNumber, &c.PatientID,
		&c.PatientName, &c.BinNumber, &c.PcnNumber, &c.ServiceDate, &total,
		&paid, &patient, &adjustment, &status, &c.StatusReason, &lines,
		&adjustments, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = types.ClaimStatus(status)
	c.TotalChargeAmount = decFromDB(total)
	c.PaidAmount = decFromDB(paid)
	c.PatientResponsibilityAmount = decFromDB(patient)
	c.AdjustmentAmount = decFromDB(adjustment)
	fromJSON(lines, &c.ServiceLines)
	fromJSON(adjustments, &c.Adjustments)
	return &c, nil
}

// GetClaim fetches one claim by id.
func (q *queries) GetClaim(ctx context.Context, id string) (*types.Claim, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get claim %s", id)
	}
	return c, nil
}

// ClaimsOfBucket returns the claims accumulated into a bucket, in the order
// they were added.
func (q *queries) ClaimsOfBucket(ctx context.Context, bucketID string) ([]*types.Claim, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+qualify(claimColumns, "c")+`
		FROM claims c
		JOIN claim_processing_log l ON l.claim_id = c.id
		WHERE l.bucket_id = ?
		ORDER BY l.created_at ASC, l.id ASC`, bucketID)
	if err != nil {
		return nil, wrapDBErrorf(err, "claims of bucket %s", bucketID)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, wrapDBError("scan bucket claim", err)
		}
		out = append(out, c)
	}
	return out, wrapDBError("iterate bucket claims", rows.Err())
}
