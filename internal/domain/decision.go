package domain

import (
	"encoding/json"
	"fmt"
)

const (
	// ReasonNoMatchingRule is returned when no rule matches KPI and severity.
	ReasonNoMatchingRule = "No matching rule"
	// ReasonOutsideWindow is returned when the matched rule is outside its window.
	ReasonOutsideWindow = "Outside window"

	decisionTypeAllow = "allow"
	decisionTypeDeny  = "deny"
)

// Decision is the verdict for one alert: Deny or Allow.
// Params: sealed set of variants declared in this package.
// Returns: outcome the caller is expected to act on.
type Decision interface {
	Allowed() bool
	isDecision()
}

// Deny is a structured refusal.
type Deny struct {
	Reason string `json:"reason"`
}

// Allow carries execute/approval flags and the resolved rule parameters.
type Allow struct {
	Execute        bool               `json:"execute"`
	NeedsApproval  bool               `json:"needsApproval"`
	ApproverRoles  []Role             `json:"approverRoles,omitempty"`
	RuleID         string             `json:"ruleId"`
	Action         Action             `json:"action,omitempty"`
	ResolvedParams map[string]any     `json:"resolvedParams"`
	Limits         map[string]float64 `json:"limits,omitempty"`
}

func (Deny) isDecision()  {}
func (Allow) isDecision() {}

// Allowed is always false for Deny.
func (Deny) Allowed() bool { return false }

// Allowed is always true for Allow.
func (Allow) Allowed() bool { return true }

// MarshalJSON adds the "type" discriminator.
func (d Deny) MarshalJSON() ([]byte, error) {
	type plain Deny
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: decisionTypeDeny, plain: plain(d)})
}

// MarshalJSON adds the "type" discriminator.
func (a Allow) MarshalJSON() ([]byte, error) {
	type plain Allow
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: decisionTypeAllow, plain: plain(a)})
}

// DecodeDecision decodes a decision produced by Deny/Allow MarshalJSON.
// Params: JSON document bytes with "type" discriminator.
// Returns: Deny or Allow value, or decode error for unknown types.
func DecodeDecision(raw []byte) (Decision, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	switch probe.Type {
	case decisionTypeDeny:
		type plain Deny
		var deny plain
		if err := json.Unmarshal(raw, &deny); err != nil {
			return nil, fmt.Errorf("decode deny decision: %w", err)
		}
		return Deny(deny), nil
	case decisionTypeAllow:
		type plain Allow
		var allow plain
		if err := json.Unmarshal(raw, &allow); err != nil {
			return nil, fmt.Errorf("decode allow decision: %w", err)
		}
		return Allow(allow), nil
	default:
		return nil, fmt.Errorf("decode decision: unsupported type %q", probe.Type)
	}
}

// DecisionOutcome returns a short label and reason for logs and metrics.
// Params: decision value.
// Returns: outcome label ("deny", "execute", "pending_approval", "suggest") and reason.
func DecisionOutcome(decision Decision) (string, string) {
	switch typed := decision.(type) {
	case Deny:
		return decisionTypeDeny, typed.Reason
	case Allow:
		switch {
		case typed.Execute:
			return "execute", typed.RuleID
		case typed.NeedsApproval:
			return "pending_approval", typed.RuleID
		default:
			return "suggest", typed.RuleID
		}
	default:
		return "unknown", ""
	}
}
