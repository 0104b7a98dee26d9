package ncpdp

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/remitflow/remitflow/internal/norm"
	"github.com/remitflow/remitflow/internal/types"
)

// ValidationError reports semantically invalid data in an otherwise
// well-formed transaction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ncpdp: invalid %s: %s", e.Field, e.Message)
}

// UnknownPayerID is used when the transaction carries no carrier id.
const UnknownPayerID = "UNKNOWN"

// MapClaim projects a parsed transaction into the canonical claim. The
// mapping is deterministic except for the claim id, whose random suffix
// keeps retries of the same raw input from colliding.
func MapClaim(tx *Transaction) (*types.Claim, error) {
	if tx.Header == nil || tx.Patient == nil || tx.Claim == nil || tx.Pricing == nil {
		return nil, &ValidationError{Field: "transaction", Message: "missing required segments"}
	}
	if tx.Header.PharmacyID == "" {
		return nil, &ValidationError{Field: "pharmacyId", Message: "header has no pharmacy id"}
	}
	if tx.Claim.DateOfService.IsZero() {
		return nil, &ValidationError{Field: "dateOfService", Message: "claim has no service date"}
	}

	payerID := UnknownPayerID
	if tx.Patient.CarrierID != "" {
		payerID = norm.ID(tx.Patient.CarrierID)
	}

	totalCharge := totalChargeAmount(tx.Pricing)
	status := claimStatus(tx)
	paid := paidAmount(tx, status)
	patientPay := patientResponsibility(tx, totalCharge, paid)

	adjustment := totalCharge.Sub(paid).Sub(patientPay)
	if adjustment.IsNegative() {
		adjustment = decimal.Zero
	}

	now := time.Now().UTC()
	claim := &types.Claim{
		ID:                          claimID(tx),
		PayerID:                     payerID,
		PayeeID:                     tx.Header.PharmacyID,
		ClaimNumber:                 tx.Claim.PrescriptionNumber,
		PatientID:                   tx.Patient.PatientID,
		PatientName:                 patientName(tx.Patient),
		BinNumber:                   tx.Patient.BinNumber,
		ServiceDate:                 tx.Claim.DateOfService,
		TotalChargeAmount:           totalCharge,
		PaidAmount:                  paid,
		PatientResponsibilityAmount: patientPay,
		AdjustmentAmount:            adjustment,
		Status:                      status,
		ServiceLines:                []types.ServiceLine{serviceLine(tx, totalCharge)},
		Adjustments:                 adjustments(status, totalCharge, adjustment),
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
	if tx.ResponseStatus != nil {
		claim.StatusReason = tx.ResponseStatus.Message
	}

	if err := claim.Validate(); err != nil {
		return nil, &ValidationError{Field: "amounts", Message: err.Error()}
	}
	return claim, nil
}

// claimID builds "NCPDP-{pharmacyId}-{rxNumber}-{date}-{suffix}". The suffix
// makes ids from retried raw inputs unique.
func claimID(tx *Transaction) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("NCPDP-%s-%s-%s-%s",
		tx.Header.PharmacyID,
		tx.Claim.PrescriptionNumber,
		tx.Claim.DateOfService.Format(dateLayout),
		suffix)
}

func patientName(p *Patient) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.FirstName, p.MiddleInitial, p.LastName} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// totalChargeAmount is the gross amount due when present, otherwise the sum
// of submitted ingredient cost, dispensing fee, and tax.
func totalChargeAmount(p *Pricing) decimal.Decimal {
	if p.GrossAmountDue != nil {
		return *p.GrossAmountDue
	}
	return deref(p.IngredientCostSubmitted).
		Add(deref(p.DispensingFeeSubmitted)).
		Add(deref(p.TaxAmount))
}

func claimStatus(tx *Transaction) types.ClaimStatus {
	if tx.ResponseStatus == nil {
		return types.ClaimProcessed
	}
	switch {
	case tx.ResponseStatus.Rejected():
		return types.ClaimDenied
	case tx.ResponseStatus.Approved():
		return types.ClaimPaid
	default:
		return types.ClaimProcessed
	}
}

func paidAmount(tx *Transaction, status types.ClaimStatus) decimal.Decimal {
	if status == types.ClaimDenied {
		return decimal.Zero
	}
	if rp := tx.ResponsePayment; rp != nil {
		if rp.TotalAmountPaid != nil {
			return *rp.TotalAmountPaid
		}
		return deref(rp.IngredientCostPaid).Add(deref(rp.DispensingFeePaid))
	}
	return deref(tx.Pricing.IngredientCostPaid).Add(deref(tx.Pricing.DispensingFeePaid))
}

func patientResponsibility(tx *Transaction, totalCharge, paid decimal.Decimal) decimal.Decimal {
	if rp := tx.ResponsePayment; rp != nil && rp.PatientPayAmount != nil {
		return *rp.PatientPayAmount
	}
	rest := totalCharge.Sub(paid)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// serviceLine builds the single line of a pharmacy claim. The pricing
// segment's NDC wins over the claim segment's.
func serviceLine(tx *Transaction, totalCharge decimal.Decimal) types.ServiceLine {
	ndc := tx.Pricing.Ndc
	if ndc == "" {
		ndc = tx.Claim.Ndc
	}
	qty := tx.Claim.QuantityDispensed
	if qty == nil {
		qty = tx.Pricing.QuantityDispensed
	}
	units := int64(0)
	if qty != nil {
		units = qty.IntPart()
	}
	return types.ServiceLine{
		ProcedureCode: ndc,
		Units:         units,
		ChargedAmount: totalCharge,
		ServiceDate:   tx.Claim.DateOfService,
	}
}

func adjustments(status types.ClaimStatus, totalCharge, adjustment decimal.Decimal) []types.ClaimAdjustment {
	var out []types.ClaimAdjustment
	if status == types.ClaimDenied {
		out = append(out, types.ClaimAdjustment{
			GroupCode:  "PR",
			ReasonCode: "REJECTED",
			Amount:     totalCharge,
		})
	}
	if adjustment.IsPositive() {
		out = append(out, types.ClaimAdjustment{
			GroupCode:  "CO",
			ReasonCode: "45",
			Amount:     adjustment,
		})
	}
	return out
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
