package checks

import "fmt"

// NoAvailableChecks signals that every reservation for the payer is
// exhausted or cancelled.
type NoAvailableChecks struct {
	PayerID string
}

func (e *NoAvailableChecks) Error() string {
	return fmt.Sprintf("no available checks for payer %s", e.PayerID)
}

// InvalidCheckState rejects an operation the check's current status does not
// permit, including voids outside the allowed window or role.
type InvalidCheckState struct {
	Operation      string
	CurrentStatus  string
	RequiredStatus string
	Reason         string
}

func (e *InvalidCheckState) Error() string {
	msg := fmt.Sprintf("cannot %s check in %s", e.Operation, e.CurrentStatus)
	if e.RequiredStatus != "" {
		msg += fmt.Sprintf(" (requires %s)", e.RequiredStatus)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// CheckPaymentNotFound reports a missing check by id or number.
type CheckPaymentNotFound struct {
	ID     string
	Number string
}

func (e *CheckPaymentNotFound) Error() string {
	if e.Number != "" {
		return fmt.Sprintf("check payment with number %s not found", e.Number)
	}
	return fmt.Sprintf("check payment %s not found", e.ID)
}

// CheckAssignmentError wraps an assignment failure. An approval that
// triggered the assignment rolls back with it.
type CheckAssignmentError struct {
	BucketID       string
	AssignmentMode string
	Cause          error
}

func (e *CheckAssignmentError) Error() string {
	return fmt.Sprintf("assign check to bucket %s (%s): %v", e.BucketID, e.AssignmentMode, e.Cause)
}

func (e *CheckAssignmentError) Unwrap() error { return e.Cause }
