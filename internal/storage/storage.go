// Package storage provides shared types for pipeline persistence.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interface and value types referenced by both the implementation
// and its consumers (changefeed, ingest, bucketing, checks, generation).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/remitflow/remitflow/internal/types"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on unique-constraint violations or lost optimistic
// updates (e.g. a bucket transition whose precondition status no longer
// holds).
var ErrConflict = errors.New("conflict")

// BucketStamp carries the timestamp/actor fields written alongside a bucket
// status transition. Nil pointers leave the column untouched.
type BucketStamp struct {
	AwaitingApprovalSince *time.Time
	ClearAwaitingApproval bool
	ApprovedAt            *time.Time
	ApprovedBy            string
	GenerationStartedAt   *time.Time
	GenerationCompletedAt *time.Time
}

// Store is the persistence surface of the pipeline. Satisfied by
// *sqlite.Store; consumers depend on this interface so mocks and alternative
// backends can be substituted.
type Store interface {
	Querier

	// RunInTransaction executes fn atomically. Mutations made through the
	// Transaction are committed together or rolled back together.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Close releases the underlying database.
	Close() error
}

// Transaction is the subset of operations available inside
// RunInTransaction. All calls share one database transaction.
type Transaction interface {
	Querier
}

// Querier is the common query/command surface shared by Store and
// Transaction.
type Querier interface {
	// Raw NCPDP claims (C4).
	CreateRawClaim(ctx context.Context, raw *types.RawNcpdpClaim) error
	GetRawClaim(ctx context.Context, id string) (*types.RawNcpdpClaim, error)
	PendingRawClaims(ctx context.Context, limit int) ([]*types.RawNcpdpClaim, error)
	ClaimRawForProcessing(ctx context.Context, id string, now time.Time) (bool, error)
	MarkRawProcessed(ctx context.Context, id, claimID string, now time.Time) error
	MarkRawFailed(ctx context.Context, id, errorMessage string) error
	ResetFailedRawClaims(ctx context.Context, maxRetries int) (int64, error)
	ResetStuckRawClaims(ctx context.Context, olderThan time.Time, message string) (int64, error)
	AppendNcpdpLog(ctx context.Context, entry *types.NcpdpProcessingEntry) error
	NcpdpLog(ctx context.Context, rawClaimID string) ([]*types.NcpdpProcessingEntry, error)

	// Canonical claims.
	CreateClaim(ctx context.Context, claim *types.Claim) error
	GetClaim(ctx context.Context, id string) (*types.Claim, error)
	ClaimsOfBucket(ctx context.Context, bucketID string) ([]*types.Claim, error)

	// Bucketing configuration.
	CreateBucketingRule(ctx context.Context, rule *types.BucketingRule) error
	ActiveBucketingRules(ctx context.Context) ([]*types.BucketingRule, error)
	CreateThreshold(ctx context.Context, th *types.GenerationThreshold) error
	ThresholdsForRule(ctx context.Context, ruleID string) ([]*types.GenerationThreshold, error)
	CreateCommitCriteria(ctx context.Context, cc *types.CommitCriteria) error
	CommitCriteriaForRule(ctx context.Context, ruleID string) (*types.CommitCriteria, error)
	CreateWorkflowConfig(ctx context.Context, wc *types.CheckPaymentWorkflowConfig) error
	WorkflowConfigForThreshold(ctx context.Context, thresholdID string) (*types.CheckPaymentWorkflowConfig, error)

	// Buckets (C5/C6).
	CreateBucket(ctx context.Context, b *types.Bucket) error
	GetBucket(ctx context.Context, id string) (*types.Bucket, error)
	OpenBucket(ctx context.Context, ruleID, payerID, payeeID, bin, pcn string) (*types.Bucket, error)
	BucketsByStatus(ctx context.Context, status types.BucketStatus) ([]*types.Bucket, error)
	AddClaimToBucket(ctx context.Context, bucketID string, claim *types.Claim) (bool, error)
	TransitionBucket(ctx context.Context, bucketID string, from, to types.BucketStatus, stamp *BucketStamp) error
	AppendApprovalLog(ctx context.Context, entry *types.BucketApprovalEntry) error
	ApprovalLog(ctx context.Context, bucketID string) ([]*types.BucketApprovalEntry, error)

	// Check payments (C8).
	CreateReservation(ctx context.Context, r *types.CheckReservation) error
	GetReservation(ctx context.Context, id string) (*types.CheckReservation, error)
	OldestActiveReservation(ctx context.Context, payerID string) (*types.CheckReservation, error)
	ConsumeReservation(ctx context.Context, id string) (*types.CheckReservation, error)
	CreateCheckPayment(ctx context.Context, c *types.CheckPayment) error
	GetCheckPayment(ctx context.Context, id string) (*types.CheckPayment, error)
	GetCheckByNumber(ctx context.Context, number string) (*types.CheckPayment, error)
	ActiveCheckForBucket(ctx context.Context, bucketID string) (*types.CheckPayment, error)
	UpdateCheckStatus(ctx context.Context, id string, from, to types.CheckStatus, issuedAt *time.Time) error
	CountChecksForReservation(ctx context.Context, reservationID string) (int64, error)
	AppendCheckAudit(ctx context.Context, entry *types.CheckAuditEntry) error
	CheckAudit(ctx context.Context, checkID string) ([]*types.CheckAuditEntry, error)

	// File generation history (C7).
	CreateFileHistory(ctx context.Context, h *types.FileGenerationHistory) error
	GetFileHistory(ctx context.Context, fileID string) (*types.FileGenerationHistory, error)
	DeliverableFiles(ctx context.Context, maxRetries int) ([]*types.FileGenerationHistory, error)
	MarkFileDelivered(ctx context.Context, fileID string, at time.Time) error
	MarkFileDeliveryFailed(ctx context.Context, fileID, errorMessage string, maxRetries int) error

	// Payer/payee configuration.
	UpsertPayer(ctx context.Context, p *types.Payer) error
	GetPayer(ctx context.Context, id string) (*types.Payer, error)
	UpsertPayee(ctx context.Context, p *types.Payee) error
	GetPayee(ctx context.Context, id string) (*types.Payee, error)

	// File naming.
	CreateNamingTemplate(ctx context.Context, t *types.FileNamingTemplate) error
	NamingTemplateForPayer(ctx context.Context, payerID string) (*types.FileNamingTemplate, error)
	NextFileSequence(ctx context.Context, templateID, payerID string, day time.Time) (int64, error)

	// Change feed (C1).
	NextFeedVersion(ctx context.Context) (int64, error)
	ChangesAfter(ctx context.Context, cp types.Checkpoint, limit int) ([]*types.DataChange, error)
	MarkChangeProcessed(ctx context.Context, changeID, errorMessage string, at time.Time) error
	GetCheckpoint(ctx context.Context, consumerID string) (types.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp types.Checkpoint) error

	// Aggregate invariants (observability/test surface).
	BucketAggregate(ctx context.Context, bucketID string) (count int64, total decimal.Decimal, err error)
}
