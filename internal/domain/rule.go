package domain

// Window is a recurring weekly availability interval.
// Params: weekdays (0 = Sunday) and inclusive HH:MM bounds.
// Returns: time gate for one rule; nil window means always open.
type Window struct {
	Days  []int  `json:"days"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Approval governs whether execution needs a human in the loop.
// Params: required flag, approver roles, and optional bypass severity.
// Returns: approval gate for one rule.
type Approval struct {
	Required         bool     `json:"required"`
	Roles            []Role   `json:"roles,omitempty"`
	BypassIfSeverity Severity `json:"bypassIfSeverity,omitempty"`
}

// When is the match predicate of a rule.
type When struct {
	KPIID    string     `json:"kpiId"`
	Severity []Severity `json:"severity"`
}

// Matches reports whether alert KPI and severity satisfy the predicate.
// Params: alert to test.
// Returns: true on equal KPI id and severity membership.
func (w When) Matches(alert Alert) bool {
	if w.KPIID != alert.KPIID {
		return false
	}
	for _, severity := range w.Severity {
		if severity == alert.Severity {
			return true
		}
	}
	return false
}

// Rule is one persisted policy.
// Params: stable id, match predicate, action, parameter template, limits,
// optional window and approval gate, and execution flags.
// Returns: unit stored by the rule repository and evaluated by the engine.
type Rule struct {
	ID          string             `json:"id"`
	When        When               `json:"when"`
	Action      Action             `json:"action"`
	Params      Params             `json:"params"`
	Limits      map[string]float64 `json:"limits"`
	Window      *Window            `json:"window,omitempty"`
	Approval    *Approval          `json:"approval,omitempty"`
	AutoExecute bool               `json:"autoExecute"`
	AutoSuggest bool               `json:"autoSuggest"`
}

// Clone returns a copy that shares no slices or maps with the source.
// Params: source rule.
// Returns: independent rule value (scalar parameter payloads are shared).
func (r Rule) Clone() Rule {
	out := r
	out.When.Severity = append([]Severity(nil), r.When.Severity...)
	out.Params = r.Params.Clone()
	if r.Limits != nil {
		out.Limits = make(map[string]float64, len(r.Limits))
		for key, value := range r.Limits {
			out.Limits[key] = value
		}
	}
	if r.Window != nil {
		window := *r.Window
		window.Days = append([]int(nil), r.Window.Days...)
		out.Window = &window
	}
	if r.Approval != nil {
		approval := *r.Approval
		approval.Roles = append([]Role(nil), r.Approval.Roles...)
		out.Approval = &approval
	}
	return out
}
