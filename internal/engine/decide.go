package engine

import (
	"time"

	"kpipolicy/internal/domain"
)

// Decide turns caller roles, alert, and rules into exactly one decision.
// Params: caller roles, validated alert, rules in ascending id order, and now.
// Returns: Deny when no rule matches or the window is closed; Allow otherwise.
func Decide(roles []domain.Role, alert domain.Alert, rules []domain.Rule, now time.Time) domain.Decision {
	rule, ok := FirstMatch(rules, alert)
	if !ok {
		return domain.Deny{Reason: domain.ReasonNoMatchingRule}
	}
	if !WithinWindow(rule.Window, now) {
		return domain.Deny{Reason: domain.ReasonOutsideWindow}
	}

	resolved := ResolveParams(rule, alert.Severity, &alert)
	needsApproval := NeedsApproval(rule.Approval, alert.Severity)
	roleOK := !needsApproval || containsRole(roles, rule.Approval.Roles)
	execute := rule.AutoExecute && (!needsApproval || roleOK)

	var approverRoles []domain.Role
	if rule.Approval != nil {
		approverRoles = append([]domain.Role(nil), rule.Approval.Roles...)
	}
	var limits map[string]float64
	if len(rule.Limits) > 0 {
		limits = make(map[string]float64, len(rule.Limits))
		for key, value := range rule.Limits {
			limits[key] = value
		}
	}

	return domain.Allow{
		Execute:        execute,
		NeedsApproval:  needsApproval,
		ApproverRoles:  approverRoles,
		RuleID:         rule.ID,
		Action:         rule.Action,
		ResolvedParams: resolved,
		Limits:         limits,
	}
}
