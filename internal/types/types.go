// Package types defines the core data structures for the remitflow pipeline.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RoundingTolerance is the epsilon allowed when validating that a claim's
// charge decomposes into paid + patient responsibility + adjustment.
var RoundingTolerance = decimal.NewFromFloat(0.01)

// RawClaimStatus is the lifecycle state of a raw NCPDP row.
type RawClaimStatus string

const (
	RawPending    RawClaimStatus = "PENDING"
	RawProcessing RawClaimStatus = "PROCESSING"
	RawProcessed  RawClaimStatus = "PROCESSED"
	RawFailed     RawClaimStatus = "FAILED"
)

// IsValid reports whether s is one of the known raw-claim states.
func (s RawClaimStatus) IsValid() bool {
	switch s {
	case RawPending, RawProcessing, RawProcessed, RawFailed:
		return true
	}
	return false
}

// RawNcpdpClaim is one raw pharmacy transaction awaiting ingestion.
type RawNcpdpClaim struct {
	ID                    string         `json:"id"`
	PayerID               string         `json:"payer_id"`
	PharmacyID            string         `json:"pharmacy_id"`
	TransactionID         string         `json:"transaction_id"`
	RawContent            string         `json:"raw_content"`
	TransactionType       string         `json:"transaction_type"` // B1, B2, B3, ...
	ServiceDate           *time.Time     `json:"service_date,omitempty"`
	PatientID             string         `json:"patient_id"`
	PrescriptionNumber    string         `json:"prescription_number"`
	Status                RawClaimStatus `json:"status"`
	CreatedDate           time.Time      `json:"created_date"`
	ProcessingStartedDate *time.Time     `json:"processing_started_date,omitempty"`
	ProcessedDate         *time.Time     `json:"processed_date,omitempty"`
	ClaimID               string         `json:"claim_id,omitempty"`
	ErrorMessage          string         `json:"error_message,omitempty"`
	RetryCount            int            `json:"retry_count"`
}

// Validate checks the raw row's status invariants.
func (r *RawNcpdpClaim) Validate() error {
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid raw claim status: %q", r.Status)
	}
	if r.Status == RawProcessing && r.ProcessingStartedDate == nil {
		return fmt.Errorf("raw claim %s: PROCESSING without processing_started_date", r.ID)
	}
	if r.Status == RawProcessed {
		if r.ClaimID == "" {
			return fmt.Errorf("raw claim %s: PROCESSED without claim_id", r.ID)
		}
		if r.ProcessedDate == nil {
			return fmt.Errorf("raw claim %s: PROCESSED without processed_date", r.ID)
		}
	}
	return nil
}

// ClaimStatus is the adjudication state of a canonical claim.
type ClaimStatus string

const (
	ClaimProcessed ClaimStatus = "PROCESSED"
	ClaimPaid      ClaimStatus = "PAID"
	ClaimDenied    ClaimStatus = "DENIED"
	ClaimAdjusted  ClaimStatus = "ADJUSTED"
	ClaimPending   ClaimStatus = "PENDING"
)

// IsValid reports whether s is a known claim status.
func (s ClaimStatus) IsValid() bool {
	switch s {
	case ClaimProcessed, ClaimPaid, ClaimDenied, ClaimAdjusted, ClaimPending:
		return true
	}
	return false
}

// ServiceLine is one billed service on a claim. Pharmacy claims carry exactly
// one line per prescription.
type ServiceLine struct {
	ProcedureCode string          `json:"procedure_code"` // NDC
	Units         int64           `json:"units"`
	ChargedAmount decimal.Decimal `json:"charged_amount"`
	ServiceDate   time.Time       `json:"service_date"`
}

// ClaimAdjustment is a CARC-style adjustment applied at the claim level.
type ClaimAdjustment struct {
	GroupCode  string          `json:"group_code"`  // CO, PR, OA, PI
	ReasonCode string          `json:"reason_code"` // e.g. "45", "REJECTED"
	Amount     decimal.Decimal `json:"amount"`
}

// Claim is the canonical internal claim. Immutable once emitted to the
// aggregator.
type Claim struct {
	ID                          string            `json:"id"`
	PayerID                     string            `json:"payer_id"`
	PayeeID                     string            `json:"payee_id"`
	ClaimNumber                 string            `json:"claim_number"`
	PatientID                   string            `json:"patient_id"`
	PatientName                 string            `json:"patient_name"`
	BinNumber                   string            `json:"bin_number,omitempty"`
	PcnNumber                   string            `json:"pcn_number,omitempty"`
	ServiceDate                 time.Time         `json:"service_date"`
	TotalChargeAmount           decimal.Decimal   `json:"total_charge_amount"`
	PaidAmount                  decimal.Decimal   `json:"paid_amount"`
	PatientResponsibilityAmount decimal.Decimal   `json:"patient_responsibility_amount"`
	AdjustmentAmount            decimal.Decimal   `json:"adjustment_amount"`
	Status                      ClaimStatus       `json:"status"`
	StatusReason                string            `json:"status_reason,omitempty"`
	ServiceLines                []ServiceLine     `json:"service_lines,omitempty"`
	Adjustments                 []ClaimAdjustment `json:"adjustments,omitempty"`
	CreatedAt                   time.Time         `json:"created_at"`
	UpdatedAt                   time.Time         `json:"updated_at"`
}

// Validate checks the monetary decomposition invariant:
// totalCharge >= paid + patientResponsibility + adjustment - epsilon.
func (c *Claim) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("claim missing id")
	}
	if c.PayerID == "" || c.PayeeID == "" {
		return fmt.Errorf("claim %s: missing payer or payee id", c.ID)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("claim %s: invalid status %q", c.ID, c.Status)
	}
	sum := c.PaidAmount.Add(c.PatientResponsibilityAmount).Add(c.AdjustmentAmount)
	if c.TotalChargeAmount.LessThan(sum.Sub(RoundingTolerance)) {
		return fmt.Errorf("claim %s: total charge %s < paid+patient+adjustment %s",
			c.ID, c.TotalChargeAmount, sum)
	}
	return nil
}

// IsRejected reports whether the claim was denied by the payer. Rejected
// claims do not contribute to bucket totals but do count rejections.
func (c *Claim) IsRejected() bool {
	return c.Status == ClaimDenied
}
