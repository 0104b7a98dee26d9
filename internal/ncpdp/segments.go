// Package ncpdp parses NCPDP D.0 pharmacy transactions and maps them into
// canonical claims.
//
// A D.0 transaction is a block of text bounded by an STX header and an SE
// trailer. Segments are delimited by '~' or newline; elements within a
// segment by '*'. The leading AMxx/ANxx token names the segment kind: AM
// segments carry the request, AN segments the adjudication response.
package ncpdp

import (
	"time"

	"github.com/shopspring/decimal"
)

// Segment tags recognized by the parser.
const (
	TagStart          = "STX"
	TagTrailer        = "SE"
	TagHeader         = "AM01"
	TagInsurance      = "AM04"
	TagPatient        = "AM07"
	TagPrescriber     = "AM11"
	TagClaim          = "AM13"
	TagCompound       = "AM14"
	TagPricing        = "AM15"
	TagPricingAmounts = "AM17"
	TagPriorAuth      = "AM19"
	TagClinical       = "AM20"
	TagAdditionalDoc  = "AM21"
	TagRespStatus     = "AN02"
	TagRespPayment    = "AN23"
	TagRespMessage    = "AN25"
	TagControl        = "AMC1"
)

// Amount codes used by the coded pricing (AM17) and response payment (AN23)
// segments. The same code space is reused with segment-specific meaning.
const (
	amtIngredientSubmitted = "01" // AM17
	amtIngredientPaid      = "02" // AM17
	amtDispensingSubmitted = "03" // AM17
	amtDispensingPaid      = "04" // AM17
	amtTax                 = "05" // AM17
	amtGrossDue            = "11" // AM17

	payIngredientPaid = "01" // AN23
	payDispensingPaid = "02" // AN23
	payPatientPay     = "03" // AN23
	payTotalPaid      = "05" // AN23
)

// Header is the AM01 transaction header segment.
type Header struct {
	ProviderQualifier string
	PharmacyID        string
	ServiceDate       *time.Time
}

// Insurance is the AM04 insurance segment.
type Insurance struct {
	CardholderID string
	GroupID      string
}

// Patient is the AM07 patient/eligibility segment. CarrierID and BinNumber
// route the claim to its benefit plan.
type Patient struct {
	CarrierID     string
	BinNumber     string
	PatientID     string
	FirstName     string
	MiddleInitial string
	LastName      string
	DateOfBirth   *time.Time
	Gender        string
}

// Prescriber is the AM11 prescriber segment.
type Prescriber struct {
	PrescriberID string
	LastName     string
	Phone        string
}

// Claim is the AM13 claim segment: the prescription being billed.
type Claim struct {
	DateOfService      time.Time
	PrescriptionNumber string
	FillNumber         string
	Ndc                string
	DaysSupply         *int64
	QuantityDispensed  *decimal.Decimal
	UnitOfMeasure      string
}

// Compound is the AM14 compound segment: component NDCs of a compounded
// prescription.
type Compound struct {
	IngredientNdcs []string
}

// Pricing is the merged view of the AM15 positional pricing segment and the
// AM17 amount-coded pairs. Either segment alone satisfies the pricing
// requirement; when both appear, AM17 values win for the fields it carries.
type Pricing struct {
	Ndc                     string
	QuantityDispensed       *decimal.Decimal
	IngredientCostSubmitted *decimal.Decimal
	IngredientCostPaid      *decimal.Decimal
	DispensingFeeSubmitted  *decimal.Decimal
	DispensingFeePaid       *decimal.Decimal
	TaxAmount               *decimal.Decimal
	GrossAmountDue          *decimal.Decimal
}

// PriorAuthorization is the AM19 segment.
type PriorAuthorization struct {
	Number string
	Type   string
}

// Clinical is the AM20 segment.
type Clinical struct {
	DiagnosisCodes []string
}

// AdditionalDocumentation is the AM21 segment.
type AdditionalDocumentation struct {
	Text string
}

// Response adjudication statuses carried by AN02.
const (
	StatusApproved = "A"
	StatusRejected = "R"
	StatusPaid     = "P"
)

// ResponseStatus is the AN02 response status segment.
type ResponseStatus struct {
	Message string
	Status  string
}

// Approved reports whether the payer approved the transaction. 'P' is a
// paid response and counts as approved.
func (r *ResponseStatus) Approved() bool {
	return r.Status == StatusApproved || r.Status == StatusPaid
}

// Rejected reports whether the payer rejected the transaction.
func (r *ResponseStatus) Rejected() bool {
	return r.Status == StatusRejected
}

// ResponsePayment is the AN23 response payment segment: amount-coded pairs
// from the adjudicator.
type ResponsePayment struct {
	IngredientCostPaid *decimal.Decimal
	DispensingFeePaid  *decimal.Decimal
	PatientPayAmount   *decimal.Decimal
	TotalAmountPaid    *decimal.Decimal
}

// ResponseMessage is the AN25 free-text response segment.
type ResponseMessage struct {
	Text string
}

// Transaction is a fully parsed NCPDP D.0 transaction. Header, Patient,
// Claim, and Pricing are always present; the rest are optional. Transactions
// without response segments have not been adjudicated.
type Transaction struct {
	TransactionID string
	Version       string

	Header          *Header
	Insurance       *Insurance
	Patient         *Patient
	Prescriber      *Prescriber
	Claim           *Claim
	Compound        *Compound
	Pricing         *Pricing
	PriorAuth       *PriorAuthorization
	Clinical        *Clinical
	AdditionalDoc   *AdditionalDocumentation
	ResponseStatus  *ResponseStatus
	ResponsePayment *ResponsePayment
	ResponseMessage *ResponseMessage

	RawContent string
}

// Adjudicated reports whether the transaction carries a payer response.
func (t *Transaction) Adjudicated() bool {
	return t.ResponseStatus != nil
}
