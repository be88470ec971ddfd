package domain

import "strings"

// Severity is the alert escalation level.
// Params: constants ok/warn/crit.
// Returns: severity token used for rule matching and parameter variants.
type Severity string

const (
	// SeverityOK marks a KPI back within range.
	SeverityOK Severity = "ok"
	// SeverityWarn marks a KPI crossing its warning threshold.
	SeverityWarn Severity = "warn"
	// SeverityCrit marks a KPI crossing its critical threshold.
	SeverityCrit Severity = "crit"
)

// Valid reports whether severity is one of the known levels.
// Params: severity token.
// Returns: true for ok/warn/crit.
func (s Severity) Valid() bool {
	switch s {
	case SeverityOK, SeverityWarn, SeverityCrit:
		return true
	default:
		return false
	}
}

// Role is a caller-supplied role name used by approval gates.
// Params: constants admin/manager/operator.
// Returns: opaque role token checked by set membership only.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
)

// Valid reports whether role is one of the known role names.
// Params: role token.
// Returns: true for admin/manager/operator.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleOperator:
		return true
	default:
		return false
	}
}

// ParseRoles splits a comma-separated role list.
// Params: raw list such as "manager, operator".
// Returns: trimmed non-empty role tokens in input order.
func ParseRoles(raw string) []Role {
	parts := strings.Split(raw, ",")
	out := make([]Role, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Role(strings.ToLower(part)))
	}
	return out
}

// Action identifies the downstream operation a rule authorizes.
// Params: closed set of action identifiers.
// Returns: action token returned to callers, never interpreted here.
type Action string

const (
	ActionPricingAdjust    Action = "pricing.adjust"
	ActionInventoryReorder Action = "inventory.reorder"
	ActionSalesNotify      Action = "sales.notify"
)

// Valid reports whether action belongs to the supported set.
// Params: action token.
// Returns: true for known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionPricingAdjust, ActionInventoryReorder, ActionSalesNotify:
		return true
	default:
		return false
	}
}
