// Package bucketing routes claims into accumulation buckets and owns the
// bucket lifecycle: threshold evaluation, approval, payment gating, and
// status-change events.
package bucketing

import (
	"github.com/remitflow/remitflow/internal/types"
)

// SelectRule picks the bucketing rule for a claim: the highest-priority
// active rule whose predicate matches. When no predicate matches, the
// lowest-priority active rule is the default; with no active rules at all
// the claim cannot be bucketed and nil is returned.
//
// rules must be ordered priority-descending, as ActiveBucketingRules
// returns them.
func SelectRule(rules []*types.BucketingRule, claim *types.Claim) *types.BucketingRule {
	var fallback *types.BucketingRule
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		fallback = r
		if ruleMatches(r, claim) {
			return r
		}
	}
	return fallback
}

func ruleMatches(r *types.BucketingRule, claim *types.Claim) bool {
	switch r.RuleType {
	case types.RulePayerPayee:
		return true
	case types.RuleBinPcn:
		return claim.BinNumber != ""
	case types.RuleCustom:
		// groupingExpression has no defined grammar yet; custom rules
		// match unconditionally until one exists.
		return true
	}
	return false
}

// bucketScope returns the (bin, pcn) part of the bucket identity. Only
// BIN_PCN rules partition by the routing keys.
func bucketScope(r *types.BucketingRule, claim *types.Claim) (bin, pcn string) {
	if r.RuleType == types.RuleBinPcn {
		return claim.BinNumber, claim.PcnNumber
	}
	return "", ""
}
