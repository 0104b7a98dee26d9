package ncpdp

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approvedTxn = `STX*D0*T1~` +
	`AM01*01*CVS-001~` +
	`AM07*BCBS-CA*610020*PAT01*JOHN*Q*DOE~` +
	`AM13*20240115*RX00001*1*00002-7510-02*30*30*EA~` +
	`AM17*01*100.00*02*90.00*03*2.50*04*2.50*11*102.50~` +
	`AN02*APPROVED*A~` +
	`AN23*01*90.00*02*2.50*03*10.00*05*92.50~` +
	`SE*T1~`

func TestParseApprovedTransaction(t *testing.T) {
	tx, err := Parse(approvedTxn)
	require.NoError(t, err)

	assert.Equal(t, "T1", tx.TransactionID)
	assert.Equal(t, "D0", tx.Version)
	assert.Equal(t, approvedTxn, tx.RawContent)

	require.NotNil(t, tx.Header)
	assert.Equal(t, "CVS-001", tx.Header.PharmacyID)

	require.NotNil(t, tx.Patient)
	assert.Equal(t, "BCBS-CA", tx.Patient.CarrierID)
	assert.Equal(t, "610020", tx.Patient.BinNumber)
	assert.Equal(t, "PAT01", tx.Patient.PatientID)
	assert.Equal(t, "JOHN", tx.Patient.FirstName)
	assert.Equal(t, "DOE", tx.Patient.LastName)

	require.NotNil(t, tx.Claim)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), tx.Claim.DateOfService)
	assert.Equal(t, "RX00001", tx.Claim.PrescriptionNumber)
	assert.Equal(t, "00002-7510-02", tx.Claim.Ndc)
	require.NotNil(t, tx.Claim.QuantityDispensed)
	assert.True(t, tx.Claim.QuantityDispensed.Equal(decimal.NewFromInt(30)))

	require.NotNil(t, tx.Pricing)
	require.NotNil(t, tx.Pricing.GrossAmountDue)
	assert.True(t, tx.Pricing.GrossAmountDue.Equal(decimal.NewFromFloat(102.50)))
	require.NotNil(t, tx.Pricing.IngredientCostPaid)
	assert.True(t, tx.Pricing.IngredientCostPaid.Equal(decimal.NewFromFloat(90.00)))

	require.NotNil(t, tx.ResponseStatus)
	assert.Equal(t, "A", tx.ResponseStatus.Status)
	assert.True(t, tx.ResponseStatus.Approved())
	assert.True(t, tx.Adjudicated())

	require.NotNil(t, tx.ResponsePayment)
	require.NotNil(t, tx.ResponsePayment.TotalAmountPaid)
	assert.True(t, tx.ResponsePayment.TotalAmountPaid.Equal(decimal.NewFromFloat(92.50)))
	require.NotNil(t, tx.ResponsePayment.PatientPayAmount)
	assert.True(t, tx.ResponsePayment.PatientPayAmount.Equal(decimal.NewFromFloat(10.00)))
}

func TestParseAcceptsNewlineSeparators(t *testing.T) {
	raw := strings.ReplaceAll(approvedTxn, "~", "\n")
	tx, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "T1", tx.TransactionID)
	require.NotNil(t, tx.Pricing)

	// Mixed separators with surrounding whitespace are also fine.
	mixed := strings.Replace(raw, "\nAM13", "~\n  AM13", 1)
	_, err = Parse(mixed)
	assert.NoError(t, err)
}

func TestParseToleratesTrailingEmptySegments(t *testing.T) {
	_, err := Parse(approvedTxn + "~~\n")
	assert.NoError(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		segment    string
		msgPart    string
	}{
		{
			name:    "missing STX",
			raw:     `AM01*01*CVS-001~SE*T1~`,
			segment: TagStart,
			msgPart: "begin with STX",
		},
		{
			name:    "missing SE",
			raw:     strings.TrimSuffix(approvedTxn, "SE*T1~"),
			segment: TagTrailer,
			msgPart: "missing SE",
		},
		{
			name:    "trailer id mismatch",
			raw:     strings.Replace(approvedTxn, "SE*T1~", "SE*T2~", 1),
			segment: TagTrailer,
			msgPart: "does not match",
		},
		{
			name:    "bad date",
			raw:     strings.Replace(approvedTxn, "20240115", "2024-01-15", 1),
			segment: TagClaim,
			msgPart: "bad date",
		},
		{
			name:    "bad decimal",
			raw:     strings.Replace(approvedTxn, "102.50", "102,50", 1),
			segment: TagPricingAmounts,
			msgPart: "bad decimal",
		},
		{
			name:    "unpaired amount code",
			raw:     strings.Replace(approvedTxn, "*11*102.50", "*11", 1),
			segment: TagPricingAmounts,
			msgPart: "unpaired",
		},
		{
			name:    "missing patient segment",
			raw:     strings.Replace(approvedTxn, "AM07*BCBS-CA*610020*PAT01*JOHN*Q*DOE~", "", 1),
			segment: TagPatient,
			msgPart: "required segment missing",
		},
		{
			name:    "claim below minimum elements",
			raw:     strings.Replace(approvedTxn, "AM13*20240115*RX00001*1*00002-7510-02*30*30*EA~", "AM13*20240115*RX00001~", 1),
			segment: TagClaim,
			msgPart: "requires",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "want *ParseError, got %T", err)
			assert.Equal(t, tt.segment, perr.SegmentID)
			assert.Greater(t, perr.LineNumber, 0)
			assert.Contains(t, perr.Message, tt.msgPart)
		})
	}
}

func TestParseEmptyElementIsAbsentNotZero(t *testing.T) {
	raw := strings.Replace(approvedTxn,
		"AM13*20240115*RX00001*1*00002-7510-02*30*30*EA~",
		"AM13*20240115*RX00001*1*00002-7510-02**~", 1)
	tx, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, tx.Claim.DaysSupply)
	assert.Nil(t, tx.Claim.QuantityDispensed)
}

func TestParsePricingFromPositionalSegment(t *testing.T) {
	raw := strings.Replace(approvedTxn,
		"AM17*01*100.00*02*90.00*03*2.50*04*2.50*11*102.50~",
		"AM15*00002-7510-02*30*100.00*2.50*0*102.50~", 1)
	tx, err := Parse(raw)
	require.NoError(t, err)

	require.NotNil(t, tx.Pricing)
	assert.Equal(t, "00002-7510-02", tx.Pricing.Ndc)
	require.NotNil(t, tx.Pricing.IngredientCostSubmitted)
	assert.True(t, tx.Pricing.IngredientCostSubmitted.Equal(decimal.NewFromFloat(100.00)))
	require.NotNil(t, tx.Pricing.GrossAmountDue)
	assert.True(t, tx.Pricing.GrossAmountDue.Equal(decimal.NewFromFloat(102.50)))
}

func TestParseWithoutResponseSegments(t *testing.T) {
	raw := strings.Replace(approvedTxn, "AN02*APPROVED*A~", "", 1)
	raw = strings.Replace(raw, "AN23*01*90.00*02*2.50*03*10.00*05*92.50~", "", 1)
	tx, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, tx.Adjudicated())
	assert.Nil(t, tx.ResponsePayment)
}
