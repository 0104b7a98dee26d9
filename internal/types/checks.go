package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the state of a pre-allocated check number range.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationExhausted ReservationStatus = "EXHAUSTED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// CheckReservation is a pre-allocated range of check numbers for a payer.
type CheckReservation struct {
	ID               string            `json:"id"`
	PayerID          string            `json:"payer_id"`
	CheckNumberStart string            `json:"check_number_start"`
	CheckNumberEnd   string            `json:"check_number_end"`
	TotalChecks      int64             `json:"total_checks"`
	ChecksUsed       int64             `json:"checks_used"`
	BankName         string            `json:"bank_name"`
	RoutingNumber    string            `json:"routing_number"`
	AccountLast4     string            `json:"account_last4"`
	Status           ReservationStatus `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Validate enforces the reservation invariants: checksUsed <= totalChecks,
// EXHAUSTED iff checksUsed == totalChecks, CANCELLED requires checksUsed == 0.
func (r *CheckReservation) Validate() error {
	if r.ChecksUsed > r.TotalChecks {
		return fmt.Errorf("reservation %s: checks_used %d > total_checks %d", r.ID, r.ChecksUsed, r.TotalChecks)
	}
	if (r.Status == ReservationExhausted) != (r.ChecksUsed == r.TotalChecks) {
		return fmt.Errorf("reservation %s: EXHAUSTED inconsistent with checks_used %d/%d",
			r.ID, r.ChecksUsed, r.TotalChecks)
	}
	if r.Status == ReservationCancelled && r.ChecksUsed != 0 {
		return fmt.Errorf("reservation %s: CANCELLED with %d checks used", r.ID, r.ChecksUsed)
	}
	return nil
}

// CheckStatus is the state of an individual check payment.
type CheckStatus string

const (
	CheckReserved     CheckStatus = "RESERVED"
	CheckAssigned     CheckStatus = "ASSIGNED"
	CheckAcknowledged CheckStatus = "ACKNOWLEDGED"
	CheckIssued       CheckStatus = "ISSUED"
	CheckVoid         CheckStatus = "VOID"
	CheckCancelled    CheckStatus = "CANCELLED"
)

// CheckPayment is a check backing a bucket's remittance.
type CheckPayment struct {
	ID            string          `json:"id"`
	BucketID      string          `json:"bucket_id"`
	CheckNumber   string          `json:"check_number"`
	CheckAmount   decimal.Decimal `json:"check_amount"`
	CheckDate     time.Time       `json:"check_date"`
	BankName      string          `json:"bank_name"`
	RoutingNumber string          `json:"routing_number"`
	AccountLast4  string          `json:"account_last4"`
	Status        CheckStatus     `json:"status"`
	ReservationID string          `json:"reservation_id,omitempty"`
	IssuedAt      *time.Time      `json:"issued_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CheckAuditEntry is one row of the check audit log.
type CheckAuditEntry struct {
	ID        string    `json:"id"`
	CheckID   string    `json:"check_id"`
	Action    string    `json:"action"` // ASSIGNED, ACKNOWLEDGED, ISSUED, VOIDED, REPLACED
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckDetails carries user-supplied fields for manual assignment.
type CheckDetails struct {
	CheckNumber   string
	CheckAmount   decimal.Decimal
	CheckDate     time.Time
	BankName      string
	RoutingNumber string
	AccountLast4  string
}
