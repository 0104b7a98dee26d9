// Package checks assigns, acknowledges, issues, and voids the check
// payments that back buckets gated by a payment workflow.
package checks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/remitflow/remitflow/internal/storage"
	"github.com/remitflow/remitflow/internal/types"
)

// DefaultVoidWindow bounds how long after issuance a check may be voided.
const DefaultVoidWindow = 72 * time.Hour

// Service is the check payment operation surface. Every operation appends a
// check_audit_log row.
type Service struct {
	store  storage.Store
	logger *log.Logger

	// separateTx allocates the reservation number in its own transaction
	// before creating the check. Meant for backends with real concurrent
	// writers; the single-writer default does both in one transaction.
	separateTx bool
	voidWindow time.Duration
	voidRoles  map[string]bool
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSeparateReservationTx splits the reservation consume from the check
// insert into two transactions.
func WithSeparateReservationTx(on bool) Option {
	return func(s *Service) { s.separateTx = on }
}

// WithVoidWindow overrides the post-issuance void window.
func WithVoidWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.voidWindow = d
		}
	}
}

// WithVoidRoles sets the roles permitted to void issued checks.
func WithVoidRoles(roles []string) Option {
	return func(s *Service) {
		s.voidRoles = make(map[string]bool, len(roles))
		for _, r := range roles {
			s.voidRoles[r] = true
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates the check payment service.
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     log.Default(),
		voidWindow: DefaultVoidWindow,
		voidRoles:  map[string]bool{"finance_admin": true},
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AssignManual creates an ASSIGNED check with user-supplied details. The
// bucket must be PENDING_APPROVAL.
func (s *Service) AssignManual(ctx context.Context, bucketID string, details types.CheckDetails, actor string) (*types.CheckPayment, error) {
	if err := s.requirePendingApproval(ctx, s.store, bucketID); err != nil {
		return nil, &CheckAssignmentError{BucketID: bucketID, AssignmentMode: string(types.AssignManual), Cause: err}
	}

	check := &types.CheckPayment{
		BucketID:      bucketID,
		CheckNumber:   details.CheckNumber,
		CheckAmount:   details.CheckAmount,
		CheckDate:     details.CheckDate,
		BankName:      details.BankName,
		RoutingNumber: details.RoutingNumber,
		AccountLast4:  details.AccountLast4,
		Status:        types.CheckAssigned,
	}
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateCheckPayment(ctx, check); err != nil {
			return err
		}
		return tx.AppendCheckAudit(ctx, &types.CheckAuditEntry{
			CheckID: check.ID,
			Action:  "ASSIGNED",
			Actor:   actor,
			Detail:  "manual assignment, number " + check.CheckNumber,
		})
	})
	if err != nil {
		return nil, &CheckAssignmentError{BucketID: bucketID, AssignmentMode: string(types.AssignManual), Cause: err}
	}
	s.logger.Printf("checks: assigned %s to bucket %s (manual)", check.CheckNumber, bucketID)
	return check, nil
}

// AssignAuto allocates the next number from the payer's oldest ACTIVE
// reservation and creates an ASSIGNED check. The bucket must be
// PENDING_APPROVAL; exhausted payers get NoAvailableChecks.
func (s *Service) AssignAuto(ctx context.Context, bucketID, actor string) (*types.CheckPayment, error) {
	wrap := func(err error) error {
		return &CheckAssignmentError{BucketID: bucketID, AssignmentMode: string(types.AssignAuto), Cause: err}
	}

	bucket, err := s.store.GetBucket(ctx, bucketID)
	if err != nil {
		return nil, wrap(fmt.Errorf("load bucket: %w", err))
	}
	if bucket.Status != types.BucketPendingApproval {
		return nil, wrap(&InvalidCheckState{
			Operation:      "assign",
			CurrentStatus:  string(bucket.Status),
			RequiredStatus: string(types.BucketPendingApproval),
		})
	}

	var check *types.CheckPayment
	if s.separateTx {
		res, num, err := s.consumeNumber(ctx, s.store, bucket.PayerID)
		if err != nil {
			return nil, wrap(err)
		}
		check = s.newReservedCheck(bucketID, num, res)
		err = s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			return s.insertWithAudit(ctx, tx, check, actor, res.ID)
		})
		if err != nil {
			return nil, wrap(err)
		}
	} else {
		err = s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			res, num, err := s.consumeNumber(ctx, tx, bucket.PayerID)
			if err != nil {
				return err
			}
			check = s.newReservedCheck(bucketID, num, res)
			return s.insertWithAudit(ctx, tx, check, actor, res.ID)
		})
		if err != nil {
			return nil, wrap(err)
		}
	}
	s.logger.Printf("checks: assigned %s to bucket %s (auto)", check.CheckNumber, bucketID)
	return check, nil
}

// consumeNumber takes the next number off the payer's oldest active
// reservation. The number is start + (checksUsed - 1) after the increment.
func (s *Service) consumeNumber(ctx context.Context, q storage.Querier, payerID string) (*types.CheckReservation, string, error) {
	res, err := q.OldestActiveReservation(ctx, payerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", &NoAvailableChecks{PayerID: payerID}
	}
	if err != nil {
		return nil, "", fmt.Errorf("find reservation: %w", err)
	}

	rng, err := ParseCheckRange(res.CheckNumberStart, res.CheckNumberEnd)
	if err != nil {
		return nil, "", err
	}

	res, err = q.ConsumeReservation(ctx, res.ID)
	if err != nil {
		return nil, "", fmt.Errorf("consume reservation %s: %w", res.ID, err)
	}
	num, err := rng.Number(res.ChecksUsed - 1)
	if err != nil {
		return nil, "", err
	}
	return res, num, nil
}

func (s *Service) newReservedCheck(bucketID, number string, res *types.CheckReservation) *types.CheckPayment {
	return &types.CheckPayment{
		BucketID:      bucketID,
		CheckNumber:   number,
		CheckDate:     s.now().UTC(),
		BankName:      res.BankName,
		RoutingNumber: res.RoutingNumber,
		AccountLast4:  res.AccountLast4,
		Status:        types.CheckAssigned,
		ReservationID: res.ID,
	}
}

func (s *Service) insertWithAudit(ctx context.Context, tx storage.Transaction, check *types.CheckPayment, actor, reservationID string) error {
	if err := tx.CreateCheckPayment(ctx, check); err != nil {
		return err
	}
	return tx.AppendCheckAudit(ctx, &types.CheckAuditEntry{
		CheckID: check.ID,
		Action:  "ASSIGNED",
		Actor:   actor,
		Detail:  "auto assignment from reservation " + reservationID,
	})
}

// Acknowledge moves ASSIGNED -> ACKNOWLEDGED.
func (s *Service) Acknowledge(ctx context.Context, checkID, actor string) error {
	check, err := s.getCheck(ctx, checkID)
	if err != nil {
		return err
	}
	if check.Status != types.CheckAssigned {
		return &InvalidCheckState{
			Operation:      "acknowledge",
			CurrentStatus:  string(check.Status),
			RequiredStatus: string(types.CheckAssigned),
		}
	}
	return s.transition(ctx, checkID, check.Status, types.CheckAcknowledged, nil, "ACKNOWLEDGED", actor, "")
}

// MarkIssued moves ACKNOWLEDGED -> ISSUED, or ASSIGNED -> ISSUED when no
// acknowledgment step is in use. Stamps issuedAt.
func (s *Service) MarkIssued(ctx context.Context, checkID, actor string) error {
	check, err := s.getCheck(ctx, checkID)
	if err != nil {
		return err
	}
	if check.Status != types.CheckAcknowledged && check.Status != types.CheckAssigned {
		return &InvalidCheckState{
			Operation:      "issue",
			CurrentStatus:  string(check.Status),
			RequiredStatus: string(types.CheckAcknowledged),
		}
	}
	issuedAt := s.now().UTC()
	return s.transition(ctx, checkID, check.Status, types.CheckIssued, &issuedAt, "ISSUED", actor, "")
}

// Void voids a check. Issued checks can only be voided inside the void
// window and by an authorized role.
func (s *Service) Void(ctx context.Context, checkID, reason, actor, actorRole string) error {
	check, err := s.getCheck(ctx, checkID)
	if err != nil {
		return err
	}
	switch check.Status {
	case types.CheckAssigned, types.CheckAcknowledged:
	case types.CheckIssued:
		if !s.voidRoles[actorRole] {
			return &InvalidCheckState{
				Operation:     "void",
				CurrentStatus: string(check.Status),
				Reason:        fmt.Sprintf("role %q not authorized to void issued checks", actorRole),
			}
		}
		if check.IssuedAt == nil || s.now().UTC().Sub(*check.IssuedAt) > s.voidWindow {
			return &InvalidCheckState{
				Operation:     "void",
				CurrentStatus: string(check.Status),
				Reason:        fmt.Sprintf("outside the %s void window", s.voidWindow),
			}
		}
	default:
		return &InvalidCheckState{
			Operation:     "void",
			CurrentStatus: string(check.Status),
		}
	}
	return s.transition(ctx, checkID, check.Status, types.CheckVoid, nil, "VOIDED", actor, reason)
}

// Replace voids the bucket's current check and assigns a new one from the
// supplied details. The bucket must be PENDING_APPROVAL.
func (s *Service) Replace(ctx context.Context, bucketID string, details types.CheckDetails, actor string) (*types.CheckPayment, error) {
	if err := s.requirePendingApproval(ctx, s.store, bucketID); err != nil {
		return nil, err
	}
	current, err := s.store.ActiveCheckForBucket(ctx, bucketID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &CheckPaymentNotFound{ID: "bucket " + bucketID}
	}
	if err != nil {
		return nil, fmt.Errorf("checks: active check for bucket %s: %w", bucketID, err)
	}

	replacement := &types.CheckPayment{
		BucketID:      bucketID,
		CheckNumber:   details.CheckNumber,
		CheckAmount:   details.CheckAmount,
		CheckDate:     details.CheckDate,
		BankName:      details.BankName,
		RoutingNumber: details.RoutingNumber,
		AccountLast4:  details.AccountLast4,
		Status:        types.CheckAssigned,
	}
	err = s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.UpdateCheckStatus(ctx, current.ID, current.Status, types.CheckVoid, nil); err != nil {
			return err
		}
		if err := tx.AppendCheckAudit(ctx, &types.CheckAuditEntry{
			CheckID: current.ID,
			Action:  "VOIDED",
			Actor:   actor,
			Detail:  "replaced by " + details.CheckNumber,
		}); err != nil {
			return err
		}
		if err := tx.CreateCheckPayment(ctx, replacement); err != nil {
			return err
		}
		return tx.AppendCheckAudit(ctx, &types.CheckAuditEntry{
			CheckID: replacement.ID,
			Action:  "ASSIGNED",
			Actor:   actor,
			Detail:  "replacement for " + current.CheckNumber,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("checks: replace check on bucket %s: %w", bucketID, err)
	}
	s.logger.Printf("checks: replaced %s with %s on bucket %s", current.CheckNumber, replacement.CheckNumber, bucketID)
	return replacement, nil
}

func (s *Service) getCheck(ctx context.Context, checkID string) (*types.CheckPayment, error) {
	check, err := s.store.GetCheckPayment(ctx, checkID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &CheckPaymentNotFound{ID: checkID}
	}
	if err != nil {
		return nil, fmt.Errorf("checks: get check %s: %w", checkID, err)
	}
	return check, nil
}

func (s *Service) requirePendingApproval(ctx context.Context, q storage.Querier, bucketID string) error {
	bucket, err := q.GetBucket(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("load bucket %s: %w", bucketID, err)
	}
	if bucket.Status != types.BucketPendingApproval {
		return &InvalidCheckState{
			Operation:      "assign",
			CurrentStatus:  string(bucket.Status),
			RequiredStatus: string(types.BucketPendingApproval),
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, checkID string, from, to types.CheckStatus, issuedAt *time.Time, action, actor, detail string) error {
	return s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.UpdateCheckStatus(ctx, checkID, from, to, issuedAt); err != nil {
			return err
		}
		return tx.AppendCheckAudit(ctx, &types.CheckAuditEntry{
			CheckID: checkID,
			Action:  action,
			Actor:   actor,
			Detail:  detail,
		})
	})
}
