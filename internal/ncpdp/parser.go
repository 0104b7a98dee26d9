package ncpdp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseError describes a structural failure in an NCPDP transaction.
// LineNumber is the 1-based segment position within the block.
type ParseError struct {
	SegmentID  string
	LineNumber int
	Message    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ncpdp: segment %s line %d: %s", e.SegmentID, e.LineNumber, e.Message)
}

func parseErrf(segment string, line int, format string, args ...interface{}) *ParseError {
	return &ParseError{SegmentID: segment, LineNumber: line, Message: fmt.Sprintf(format, args...)}
}

const (
	dateLayout = "20060102"
	timeLayout = "150405"
)

// Parse reads one D.0 transaction block. It is a single pass over the
// segments; the input is never mutated and the full text is preserved on the
// returned transaction.
func Parse(raw string) (*Transaction, error) {
	segments := splitSegments(raw)
	if len(segments) == 0 {
		return nil, parseErrf(TagStart, 1, "empty transaction")
	}

	tx := &Transaction{RawContent: raw}
	if err := parseStart(tx, segments[0]); err != nil {
		return nil, err
	}

	sawTrailer := false
	for _, seg := range segments[1:] {
		if sawTrailer {
			return nil, parseErrf(seg.tag(), seg.line, "segment after SE trailer")
		}
		if seg.tag() == TagTrailer {
			if err := parseTrailer(tx, seg); err != nil {
				return nil, err
			}
			sawTrailer = true
			continue
		}
		if err := parseSegment(tx, seg); err != nil {
			return nil, err
		}
	}
	if !sawTrailer {
		return nil, parseErrf(TagTrailer, len(segments), "missing SE trailer")
	}

	return tx, validateRequired(tx, len(segments))
}

// segment is one tokenized segment line.
type segment struct {
	elems []string
	line  int
}

func (s segment) tag() string { return s.elems[0] }

// element returns the i-th element after the tag, or "" when absent. Empty
// elements are absent values, never zeroes.
func (s segment) element(i int) string {
	idx := i + 1
	if idx >= len(s.elems) {
		return ""
	}
	return s.elems[idx]
}

func (s segment) count() int { return len(s.elems) - 1 }

// splitSegments tokenizes the block. Both '~' and newline terminate a
// segment; blank segments between separators are skipped. A trailing '*'
// produces an empty final element, which is dropped.
func splitSegments(raw string) []segment {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '~' || r == '\n' || r == '\r'
	})

	var out []segment
	line := 0
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		line++
		elems := strings.Split(f, "*")
		for len(elems) > 1 && elems[len(elems)-1] == "" {
			elems = elems[:len(elems)-1]
		}
		out = append(out, segment{elems: elems, line: line})
	}
	return out
}

func parseStart(tx *Transaction, seg segment) error {
	if seg.tag() != TagStart {
		return parseErrf(TagStart, seg.line, "transaction must begin with STX, got %q", seg.tag())
	}
	if seg.count() < 2 {
		return parseErrf(TagStart, seg.line, "STX requires version and transaction id")
	}
	tx.Version = seg.element(0)
	tx.TransactionID = seg.element(1)
	if tx.TransactionID == "" {
		return parseErrf(TagStart, seg.line, "empty transaction id")
	}
	return nil
}

func parseTrailer(tx *Transaction, seg segment) error {
	if seg.count() < 1 {
		return parseErrf(TagTrailer, seg.line, "SE requires transaction id")
	}
	if id := seg.element(0); id != tx.TransactionID {
		return parseErrf(TagTrailer, seg.line, "SE transaction id %q does not match STX %q", id, tx.TransactionID)
	}
	return nil
}

func parseSegment(tx *Transaction, seg segment) error {
	switch seg.tag() {
	case TagHeader:
		return parseHeader(tx, seg)
	case TagInsurance:
		tx.Insurance = &Insurance{CardholderID: seg.element(0), GroupID: seg.element(1)}
		return nil
	case TagPatient:
		return parsePatient(tx, seg)
	case TagPrescriber:
		tx.Prescriber = &Prescriber{
			PrescriberID: seg.element(0),
			LastName:     seg.element(1),
			Phone:        seg.element(2),
		}
		return nil
	case TagClaim:
		return parseClaim(tx, seg)
	case TagCompound:
		return parseCompound(tx, seg)
	case TagPricing:
		return parsePricing(tx, seg)
	case TagPricingAmounts:
		return parsePricingAmounts(tx, seg)
	case TagPriorAuth:
		tx.PriorAuth = &PriorAuthorization{Number: seg.element(0), Type: seg.element(1)}
		return nil
	case TagClinical:
		return parseClinical(tx, seg)
	case TagAdditionalDoc:
		tx.AdditionalDoc = &AdditionalDocumentation{Text: strings.Join(seg.elems[1:], " ")}
		return nil
	case TagRespStatus:
		return parseResponseStatus(tx, seg)
	case TagRespPayment:
		return parseResponsePayment(tx, seg)
	case TagRespMessage:
		tx.ResponseMessage = &ResponseMessage{Text: strings.Join(seg.elems[1:], " ")}
		return nil
	case TagControl:
		// AMC1 control trailer carries no mapped data.
		return nil
	default:
		return parseErrf(seg.tag(), seg.line, "unknown segment tag")
	}
}

func parseHeader(tx *Transaction, seg segment) error {
	if seg.count() < 2 {
		return parseErrf(TagHeader, seg.line, "header requires qualifier and pharmacy id, got %d elements", seg.count())
	}
	h := &Header{
		ProviderQualifier: seg.element(0),
		PharmacyID:        seg.element(1),
	}
	date, err := optionalDate(seg, 2)
	if err != nil {
		return err
	}
	h.ServiceDate = date
	tx.Header = h
	return nil
}

func parsePatient(tx *Transaction, seg segment) error {
	if seg.count() < 3 {
		return parseErrf(TagPatient, seg.line, "patient requires carrier, BIN, and patient id, got %d elements", seg.count())
	}
	p := &Patient{
		CarrierID:     seg.element(0),
		BinNumber:     seg.element(1),
		PatientID:     seg.element(2),
		FirstName:     seg.element(3),
		MiddleInitial: seg.element(4),
		LastName:      seg.element(5),
		Gender:        seg.element(7),
	}
	dob, err := optionalDate(seg, 6)
	if err != nil {
		return err
	}
	p.DateOfBirth = dob
	tx.Patient = p
	return nil
}

func parseClaim(tx *Transaction, seg segment) error {
	if seg.count() < 4 {
		return parseErrf(TagClaim, seg.line, "claim requires date, rx number, fill, and NDC, got %d elements", seg.count())
	}
	dos, err := requiredDate(seg, 0)
	if err != nil {
		return err
	}
	c := &Claim{
		DateOfService:      dos,
		PrescriptionNumber: seg.element(1),
		FillNumber:         seg.element(2),
		Ndc:                seg.element(3),
		UnitOfMeasure:      seg.element(6),
	}
	if c.PrescriptionNumber == "" {
		return parseErrf(TagClaim, seg.line, "empty prescription number")
	}
	if raw := seg.element(4); raw != "" {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return parseErrf(TagClaim, seg.line, "bad days supply %q", raw)
		}
		c.DaysSupply = &n
	}
	qty, err := optionalDecimal(seg, 5)
	if err != nil {
		return err
	}
	c.QuantityDispensed = qty
	tx.Claim = c
	return nil
}

func parseCompound(tx *Transaction, seg segment) error {
	var ndcs []string
	for i := 0; i < seg.count(); i++ {
		if e := seg.element(i); e != "" {
			ndcs = append(ndcs, e)
		}
	}
	if len(ndcs) == 0 {
		return parseErrf(TagCompound, seg.line, "compound segment without ingredient NDCs")
	}
	tx.Compound = &Compound{IngredientNdcs: ndcs}
	return nil
}

func parsePricing(tx *Transaction, seg segment) error {
	if seg.count() < 1 {
		return parseErrf(TagPricing, seg.line, "pricing segment is empty")
	}
	p := tx.Pricing
	if p == nil {
		p = &Pricing{}
		tx.Pricing = p
	}
	p.Ndc = seg.element(0)

	vals := make([]*decimal.Decimal, 5)
	for i := range vals {
		v, err := optionalDecimal(seg, i+1)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	p.QuantityDispensed = vals[0]
	p.IngredientCostSubmitted = vals[1]
	p.DispensingFeeSubmitted = vals[2]
	p.TaxAmount = vals[3]
	p.GrossAmountDue = vals[4]
	return nil
}

// parsePricingAmounts reads the AM17 coded pairs into the pricing view. When
// AM15 already supplied a field, the coded value wins.
func parsePricingAmounts(tx *Transaction, seg segment) error {
	p := tx.Pricing
	if p == nil {
		p = &Pricing{}
		tx.Pricing = p
	}
	return eachAmountPair(seg, func(code string, value *decimal.Decimal) error {
		switch code {
		case amtIngredientSubmitted:
			p.IngredientCostSubmitted = value
		case amtIngredientPaid:
			p.IngredientCostPaid = value
		case amtDispensingSubmitted:
			p.DispensingFeeSubmitted = value
		case amtDispensingPaid:
			p.DispensingFeePaid = value
		case amtTax:
			p.TaxAmount = value
		case amtGrossDue:
			p.GrossAmountDue = value
		default:
			// Unrecognized amount codes are carried by the raw text only.
		}
		return nil
	})
}

func parseClinical(tx *Transaction, seg segment) error {
	var codes []string
	for i := 0; i < seg.count(); i++ {
		if e := seg.element(i); e != "" {
			codes = append(codes, e)
		}
	}
	tx.Clinical = &Clinical{DiagnosisCodes: codes}
	return nil
}

func parseResponseStatus(tx *Transaction, seg segment) error {
	if seg.count() < 2 {
		return parseErrf(TagRespStatus, seg.line, "response status requires message and status code")
	}
	tx.ResponseStatus = &ResponseStatus{
		Message: seg.element(0),
		Status:  seg.element(1),
	}
	return nil
}

func parseResponsePayment(tx *Transaction, seg segment) error {
	rp := &ResponsePayment{}
	err := eachAmountPair(seg, func(code string, value *decimal.Decimal) error {
		switch code {
		case payIngredientPaid:
			rp.IngredientCostPaid = value
		case payDispensingPaid:
			rp.DispensingFeePaid = value
		case payPatientPay:
			rp.PatientPayAmount = value
		case payTotalPaid:
			rp.TotalAmountPaid = value
		}
		return nil
	})
	if err != nil {
		return err
	}
	tx.ResponsePayment = rp
	return nil
}

// eachAmountPair walks a variable-length (code, value) sequence. An unpaired
// trailing code is a framing error.
func eachAmountPair(seg segment, fn func(code string, value *decimal.Decimal) error) error {
	if seg.count()%2 != 0 {
		return parseErrf(seg.tag(), seg.line, "unpaired amount code %q", seg.element(seg.count()-1))
	}
	for i := 0; i < seg.count(); i += 2 {
		code := seg.element(i)
		value, err := optionalDecimal(seg, i+1)
		if err != nil {
			return err
		}
		if value == nil {
			return parseErrf(seg.tag(), seg.line, "amount code %q without value", code)
		}
		if err := fn(code, value); err != nil {
			return err
		}
	}
	return nil
}

func requiredDate(seg segment, i int) (time.Time, error) {
	raw := seg.element(i)
	if raw == "" {
		return time.Time{}, parseErrf(seg.tag(), seg.line, "missing date in element %d", i+1)
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, parseErrf(seg.tag(), seg.line, "bad date %q (want yyyyMMdd)", raw)
	}
	return t, nil
}

func optionalDate(seg segment, i int) (*time.Time, error) {
	raw := seg.element(i)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, parseErrf(seg.tag(), seg.line, "bad date %q (want yyyyMMdd)", raw)
	}
	return &t, nil
}

func optionalDecimal(seg segment, i int) (*decimal.Decimal, error) {
	raw := seg.element(i)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, parseErrf(seg.tag(), seg.line, "bad decimal %q", raw)
	}
	return &d, nil
}

func validateRequired(tx *Transaction, lastLine int) error {
	switch {
	case tx.Header == nil:
		return parseErrf(TagHeader, lastLine, "required segment missing")
	case tx.Patient == nil:
		return parseErrf(TagPatient, lastLine, "required segment missing")
	case tx.Claim == nil:
		return parseErrf(TagClaim, lastLine, "required segment missing")
	case tx.Pricing == nil:
		return parseErrf(TagPricing, lastLine, "required segment missing")
	}
	return nil
}
