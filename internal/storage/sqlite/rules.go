package sqlite

import (
	"context"
	"database/sql"

	"github.com/remitflow/remitflow/internal/types"
)

// CreateBucketingRule inserts a bucketing rule.
func (q *queries) CreateBucketingRule(ctx context.Context, rule *types.BucketingRule) error {
	if rule.ID == "" {
		rule.ID = newID()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO bucketing_rules
			(id, rule_name, rule_type, priority, grouping_expression, linked_payer_id, linked_payee_id, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.RuleName, string(rule.RuleType), rule.Priority,
		rule.GroupingExpression, rule.LinkedPayerID, rule.LinkedPayeeID, rule.IsActive)
	return wrapDBErrorf(err, "create bucketing rule %s", rule.RuleName)
}

// ActiveBucketingRules returns active rules in priority-descending order
// (highest priority first), ties broken by name for determinism.
func (q *queries) ActiveBucketingRules(ctx context.Context) ([]*types.BucketingRule, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, rule_name, rule_type, priority, grouping_expression,
		       linked_payer_id, linked_payee_id, is_active
		FROM bucketing_rules
		WHERE is_active = 1
		ORDER BY priority DESC, rule_name ASC`)
	if err != nil {
		return nil, wrapDBError("list active bucketing rules", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.BucketingRule
	for rows.Next() {
		var r types.BucketingRule
		var ruleType string
		if err := rows.Scan(&r.ID, &r.RuleName, &ruleType, &r.Priority,
			&r.GroupingExpression, &r.LinkedPayerID, &r.LinkedPayeeID, &r.IsActive); err != nil {
			return nil, wrapDBError("scan bucketing rule", err)
		}
		r.RuleType = types.RuleType(ruleType)
		out = append(out, &r)
	}
	return out, wrapDBError("iterate bucketing rules", rows.Err())
}

// CreateThreshold inserts a generation threshold.
func (q *queries) CreateThreshold(ctx context.Context, th *types.GenerationThreshold) error {
	if th.ID == "" {
		th.ID = newID()
	}
	var maxClaims interface{}
	if th.MaxClaims != nil {
		maxClaims = *th.MaxClaims
	}
	var maxAmount interface{}
	if th.HasMaxAmount {
		maxAmount = decToDB(th.MaxAmount)
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO generation_thresholds
			(id, threshold_name, threshold_type, max_claims, max_amount, time_duration,
			 generation_schedule, linked_bucketing_rule_id, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		th.ID, th.ThresholdName, string(th.ThresholdType), maxClaims, maxAmount,
		string(th.TimeDuration), th.GenerationSchedule, th.LinkedBucketingRuleID, th.IsActive)
	return wrapDBErrorf(err, "create threshold %s", th.ThresholdName)
}

// ThresholdsForRule returns active thresholds linked to a rule.
func (q *queries) ThresholdsForRule(ctx context.Context, ruleID string) ([]*types.GenerationThreshold, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, threshold_name, threshold_type, max_claims, max_amount,
		       time_duration, generation_schedule, linked_bucketing_rule_id, is_active
		FROM generation_thresholds
		WHERE linked_bucketing_rule_id = ? AND is_active = 1
		ORDER BY threshold_name ASC`, ruleID)
	if err != nil {
		return nil, wrapDBErrorf(err, "thresholds for rule %s", ruleID)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.GenerationThreshold
	for rows.Next() {
		var th types.GenerationThreshold
		var thType, duration string
		var maxClaims sql.NullInt64
		var maxAmount sql.NullString
		if err := rows.Scan(&th.ID, &th.ThresholdName, &thType, &maxClaims,
			&maxAmount, &duration, &th.GenerationSchedule,
			&th.LinkedBucketingRuleID, &th.IsActive); err != nil {
			return nil, wrapDBError("scan threshold", err)
		}
		th.ThresholdType = types.ThresholdType(thType)
		th.TimeDuration = types.TimeDuration(duration)
		if maxClaims.Valid {
			v := maxClaims.Int64
			th.MaxClaims = &v
		}
		if maxAmount.Valid {
			th.MaxAmount = decFromDB(maxAmount.String)
			th.HasMaxAmount = true
		}
		out = append(out, &th)
	}
	return out, wrapDBError("iterate thresholds", rows.Err())
}

// CreateCommitCriteria inserts an approval policy.
func (q *queries) CreateCommitCriteria(ctx context.Context, cc *types.CommitCriteria) error {
	if cc.ID == "" {
		cc.ID = newID()
	}
	var autoTh, manualTh interface{}
	if cc.AutoCommitThreshold != nil {
		autoTh = *cc.AutoCommitThreshold
	}
	if cc.ManualApprovalThreshold != nil {
		manualTh = *cc.ManualApprovalThreshold
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO commit_criteria
			(id, commit_mode, auto_commit_threshold, manual_approval_threshold,
			 approval_required_roles, override_permissions, linked_bucketing_rule_id, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cc.ID, string(cc.CommitMode), autoTh, manualTh,
		toJSON(cc.ApprovalRequiredRoles), toJSON(cc.OverridePermissions),
		cc.LinkedBucketingRuleID, cc.IsActive)
	return wrapDBErrorf(err, "create commit criteria for rule %s", cc.LinkedBucketingRuleID)
}

// CommitCriteriaForRule returns the active approval policy for a rule, or
// storage.ErrNotFound.
func (q *queries) CommitCriteriaForRule(ctx context.Context, ruleID string) (*types.CommitCriteria, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, commit_mode, auto_commit_threshold, manual_approval_threshold,
		       approval_required_roles, override_permissions, linked_bucketing_rule_id, is_active
		FROM commit_criteria
		WHERE linked_bucketing_rule_id = ? AND is_active = 1
		LIMIT 1`, ruleID)

	var cc types.CommitCriteria
	var mode, roles, perms string
	var autoTh, manualTh sql.NullInt64
	err := row.Scan(&cc.ID, &mode, &autoTh, &manualTh, &roles, &perms,
		&cc.LinkedBucketingRuleID, &cc.IsActive)
	if err != nil {
		return nil, wrapDBErrorf(err, "commit criteria for rule %s", ruleID)
	}
	cc.CommitMode = types.CommitMode(mode)
	if autoTh.Valid {
		v := autoTh.Int64
		cc.AutoCommitThreshold = &v
	}
	if manualTh.Valid {
		v := manualTh.Int64
		cc.ManualApprovalThreshold = &v
	}
	fromJSON(roles, &cc.ApprovalRequiredRoles)
	fromJSON(perms, &cc.OverridePermissions)
	return &cc, nil
}

// CreateWorkflowConfig inserts a payment-gate config.
func (q *queries) CreateWorkflowConfig(ctx context.Context, wc *types.CheckPaymentWorkflowConfig) error {
	if wc.ID == "" {
		wc.ID = newID()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO check_payment_workflow_configs
			(id, workflow_mode, assignment_mode, require_acknowledgment, linked_threshold_id)
		VALUES (?, ?, ?, ?, ?)`,
		wc.ID, string(wc.WorkflowMode), string(wc.AssignmentMode),
		wc.RequireAcknowledgment, wc.LinkedThresholdID)
	return wrapDBErrorf(err, "create workflow config for threshold %s", wc.LinkedThresholdID)
}

// WorkflowConfigForThreshold returns the payment-gate config linked to a
// threshold, or storage.ErrNotFound when none exists.
func (q *queries) WorkflowConfigForThreshold(ctx context.Context, thresholdID string) (*types.CheckPaymentWorkflowConfig, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, workflow_mode, assignment_mode, require_acknowledgment, linked_threshold_id
		FROM check_payment_workflow_configs
		WHERE linked_threshold_id = ?
		LIMIT 1`, thresholdID)

	var wc types.CheckPaymentWorkflowConfig
	var wfMode, asMode string
	err := row.Scan(&wc.ID, &wfMode, &asMode, &wc.RequireAcknowledgment, &wc.LinkedThresholdID)
	if err != nil {
		return nil, wrapDBErrorf(err, "workflow config for threshold %s", thresholdID)
	}
	wc.WorkflowMode = types.WorkflowMode(wfMode)
	wc.AssignmentMode = types.AssignmentMode(asMode)
	return &wc, nil
}
