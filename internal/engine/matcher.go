package engine

import "kpipolicy/internal/domain"

// FirstMatch finds the first rule whose predicate matches alert.
// Params: rules in repository order (ascending id) and incoming alert.
// Returns: matched rule and true, or zero rule and false.
func FirstMatch(rules []domain.Rule, alert domain.Alert) (domain.Rule, bool) {
	for _, rule := range rules {
		if rule.When.Matches(alert) {
			return rule, true
		}
	}
	return domain.Rule{}, false
}

// NeedsApproval reports whether approval gate applies to severity.
// Params: optional approval gate and alert severity.
// Returns: true when approval is required and severity is not the bypass level.
func NeedsApproval(approval *domain.Approval, severity domain.Severity) bool {
	if approval == nil || !approval.Required {
		return false
	}
	return approval.BypassIfSeverity == "" || approval.BypassIfSeverity != severity
}

// containsRole checks role set intersection.
// Params: caller roles and approver roles.
// Returns: true when at least one role is shared.
func containsRole(have, allowed []domain.Role) bool {
	for _, role := range have {
		for _, candidate := range allowed {
			if role == candidate {
				return true
			}
		}
	}
	return false
}
