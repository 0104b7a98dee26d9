package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BucketStatus is the lifecycle state of an accumulation bucket.
type BucketStatus string

const (
	BucketAccumulating    BucketStatus = "ACCUMULATING"
	BucketPendingApproval BucketStatus = "PENDING_APPROVAL"
	BucketGenerating      BucketStatus = "GENERATING"
	BucketCompleted       BucketStatus = "COMPLETED"
	BucketFailed          BucketStatus = "FAILED"
	BucketMissingConfig   BucketStatus = "MISSING_CONFIGURATION"
)

// IsValid reports whether s is a known bucket status.
func (s BucketStatus) IsValid() bool {
	switch s {
	case BucketAccumulating, BucketPendingApproval, BucketGenerating,
		BucketCompleted, BucketFailed, BucketMissingConfig:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s BucketStatus) IsTerminal() bool {
	return s == BucketCompleted || s == BucketFailed
}

// CanTransitionTo reports whether the state machine permits s -> next.
func (s BucketStatus) CanTransitionTo(next BucketStatus) bool {
	switch s {
	case BucketAccumulating:
		return next == BucketPendingApproval || next == BucketGenerating || next == BucketMissingConfig
	case BucketPendingApproval:
		return next == BucketGenerating || next == BucketAccumulating || next == BucketMissingConfig
	case BucketGenerating:
		return next == BucketCompleted || next == BucketFailed ||
			next == BucketMissingConfig || next == BucketAccumulating || next == BucketPendingApproval
	case BucketMissingConfig:
		// Resolved configuration resets the bucket to its pre-GENERATING
		// state; approved buckets resume generation directly.
		return next == BucketAccumulating || next == BucketPendingApproval || next == BucketGenerating
	}
	return false
}

// Bucket accumulates claims destined for a single outbound remittance file.
type Bucket struct {
	BucketID              string          `json:"bucket_id"`
	Status                BucketStatus    `json:"status"`
	BucketingRuleID       string          `json:"bucketing_rule_id"`
	PayerID               string          `json:"payer_id"`
	PayeeID               string          `json:"payee_id"`
	BinNumber             string          `json:"bin_number,omitempty"`
	PcnNumber             string          `json:"pcn_number,omitempty"`
	ClaimCount            int64           `json:"claim_count"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	RejectionCount        int64           `json:"rejection_count"`
	CreatedAt             time.Time       `json:"created_at"`
	LastUpdated           time.Time       `json:"last_updated"`
	AwaitingApprovalSince *time.Time      `json:"awaiting_approval_since,omitempty"`
	ApprovedAt            *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy            string          `json:"approved_by,omitempty"`
	GenerationStartedAt   *time.Time      `json:"generation_started_at,omitempty"`
	GenerationCompletedAt *time.Time      `json:"generation_completed_at,omitempty"`
}

// Key returns the bucket's identity tuple. At most one ACCUMULATING bucket
// may exist per key.
func (b *Bucket) Key() string {
	return BucketKey(b.BucketingRuleID, b.PayerID, b.PayeeID, b.BinNumber, b.PcnNumber)
}

// BucketKey builds the identity tuple string for bucket addressing.
func BucketKey(ruleID, payerID, payeeID, bin, pcn string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", ruleID, payerID, payeeID, bin, pcn)
}

// RuleType selects the bucketing predicate.
type RuleType string

const (
	RulePayerPayee RuleType = "PAYER_PAYEE"
	RuleBinPcn     RuleType = "BIN_PCN"
	RuleCustom     RuleType = "CUSTOM"
)

// BucketingRule is the selection criteria routing a claim into a bucket.
type BucketingRule struct {
	ID                 string   `json:"id"`
	RuleName           string   `json:"rule_name"`
	RuleType           RuleType `json:"rule_type"`
	Priority           int      `json:"priority"` // higher wins
	GroupingExpression string   `json:"grouping_expression,omitempty"`
	LinkedPayerID      string   `json:"linked_payer_id,omitempty"`
	LinkedPayeeID      string   `json:"linked_payee_id,omitempty"`
	IsActive           bool     `json:"is_active"`
}

// ThresholdType selects how a generation threshold fires.
type ThresholdType string

const (
	ThresholdClaimCount ThresholdType = "CLAIM_COUNT"
	ThresholdAmount     ThresholdType = "AMOUNT"
	ThresholdTime       ThresholdType = "TIME"
	ThresholdHybrid     ThresholdType = "HYBRID"
)

// TimeDuration is the calendar window for TIME thresholds.
type TimeDuration string

const (
	DurationDaily    TimeDuration = "DAILY"
	DurationWeekly   TimeDuration = "WEEKLY"
	DurationBiweekly TimeDuration = "BIWEEKLY"
	DurationMonthly  TimeDuration = "MONTHLY"
)

// GenerationThreshold is the per-rule trigger that fires a bucket out of
// ACCUMULATING.
type GenerationThreshold struct {
	ID                    string          `json:"id"`
	ThresholdName         string          `json:"threshold_name"`
	ThresholdType         ThresholdType   `json:"threshold_type"`
	MaxClaims             *int64          `json:"max_claims,omitempty"`
	MaxAmount             decimal.Decimal `json:"max_amount"`
	HasMaxAmount          bool            `json:"has_max_amount"`
	TimeDuration          TimeDuration    `json:"time_duration,omitempty"`
	GenerationSchedule    string          `json:"generation_schedule,omitempty"` // cron expression
	LinkedBucketingRuleID string          `json:"linked_bucketing_rule_id"`
	IsActive              bool            `json:"is_active"`
}

// CommitMode maps a threshold firing to direct generation or an approval step.
type CommitMode string

const (
	CommitAuto   CommitMode = "AUTO"
	CommitManual CommitMode = "MANUAL"
	CommitHybrid CommitMode = "HYBRID"
)

// CommitCriteria is the per-rule approval policy.
type CommitCriteria struct {
	ID                      string     `json:"id"`
	CommitMode              CommitMode `json:"commit_mode"`
	AutoCommitThreshold     *int64     `json:"auto_commit_threshold,omitempty"`
	ManualApprovalThreshold *int64     `json:"manual_approval_threshold,omitempty"`
	ApprovalRequiredRoles   []string   `json:"approval_required_roles,omitempty"`
	OverridePermissions     []string   `json:"override_permissions,omitempty"`
	LinkedBucketingRuleID   string     `json:"linked_bucketing_rule_id"`
	IsActive                bool       `json:"is_active"`
}

// WorkflowMode gates generation on an assigned check payment.
type WorkflowMode string

const (
	WorkflowNone     WorkflowMode = "NONE"
	WorkflowSeparate WorkflowMode = "SEPARATE"
	WorkflowCombined WorkflowMode = "COMBINED"
)

// AssignmentMode selects how checks are assigned to buckets.
type AssignmentMode string

const (
	AssignManual AssignmentMode = "MANUAL"
	AssignAuto   AssignmentMode = "AUTO"
	AssignBoth   AssignmentMode = "BOTH"
)

// CheckPaymentWorkflowConfig is the per-threshold payment gate.
type CheckPaymentWorkflowConfig struct {
	ID                     string         `json:"id"`
	WorkflowMode           WorkflowMode   `json:"workflow_mode"`
	AssignmentMode         AssignmentMode `json:"assignment_mode"`
	RequireAcknowledgment  bool           `json:"require_acknowledgment"`
	LinkedThresholdID      string         `json:"linked_threshold_id"`
}

// BucketApprovalEntry is one row of the bucket approval log.
type BucketApprovalEntry struct {
	ID        string    `json:"id"`
	BucketID  string    `json:"bucket_id"`
	Action    string    `json:"action"` // APPROVED, REJECTED
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Comments  string    `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
