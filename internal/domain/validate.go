package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrValidation marks malformed rule, alert, or role input.
var ErrValidation = errors.New("validation failed")

// validationError wraps one message with ErrValidation.
// Params: formatted message.
// Returns: error matching errors.Is(err, ErrValidation).
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks rule shape before it reaches the repository.
// Params: rule fields.
// Returns: ErrValidation-wrapped error describing the first violation.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return validationError("id is required")
	}
	if strings.TrimSpace(r.When.KPIID) == "" {
		return validationError("rule %q: when.kpiId is required", r.ID)
	}
	if len(r.When.Severity) == 0 {
		return validationError("rule %q: when.severity must not be empty", r.ID)
	}
	for i, severity := range r.When.Severity {
		if !severity.Valid() {
			return validationError("rule %q: when.severity[%d] has unsupported value %q", r.ID, i, severity)
		}
	}
	if !r.Action.Valid() {
		return validationError("rule %q: action has unsupported value %q", r.ID, r.Action)
	}
	for key, value := range r.Params {
		if strings.TrimSpace(key) == "" {
			return validationError("rule %q: params contains empty key", r.ID)
		}
		if value == nil {
			return validationError("rule %q: params.%s is null", r.ID, key)
		}
	}
	for key, value := range r.Limits {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return validationError("rule %q: limits.%s must be finite", r.ID, key)
		}
	}
	if r.Window != nil {
		if err := r.Window.Validate(); err != nil {
			return validationError("rule %q: window: %v", r.ID, err)
		}
	}
	if r.Approval != nil {
		if err := r.Approval.Validate(); err != nil {
			return validationError("rule %q: approval: %v", r.ID, err)
		}
	}
	return nil
}

// Validate checks weekday range and HH:MM bounds.
// Params: window fields.
// Returns: plain error for the first violation.
func (w Window) Validate() error {
	if len(w.Days) == 0 {
		return errors.New("days must not be empty")
	}
	for i, day := range w.Days {
		if day < 0 || day > 6 {
			return fmt.Errorf("days[%d] must be within 0..6", i)
		}
	}
	if _, ok := ParseClockMinutes(w.Start); !ok {
		return fmt.Errorf("start %q must be HH:MM", w.Start)
	}
	if _, ok := ParseClockMinutes(w.End); !ok {
		return fmt.Errorf("end %q must be HH:MM", w.End)
	}
	return nil
}

// Validate checks approver roles and bypass severity.
// Params: approval fields.
// Returns: plain error for the first violation.
func (a Approval) Validate() error {
	for i, role := range a.Roles {
		if !role.Valid() {
			return fmt.Errorf("roles[%d] has unsupported value %q", i, role)
		}
	}
	if a.BypassIfSeverity != "" && !a.BypassIfSeverity.Valid() {
		return fmt.Errorf("bypassIfSeverity has unsupported value %q", a.BypassIfSeverity)
	}
	return nil
}

// Validate checks alert shape before evaluation.
// Params: alert fields.
// Returns: ErrValidation-wrapped error describing the first violation.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return validationError("alert id is required")
	}
	if strings.TrimSpace(a.KPIID) == "" {
		return validationError("alert %q: kpiId is required", a.ID)
	}
	if !a.Severity.Valid() {
		return validationError("alert %q: severity has unsupported value %q", a.ID, a.Severity)
	}
	if a.Delta != nil && (math.IsNaN(*a.Delta) || math.IsInf(*a.Delta, 0)) {
		return validationError("alert %q: delta must be finite", a.ID)
	}
	return nil
}

// ParseClockMinutes converts HH:MM into minutes since midnight.
// Params: clock text with two-digit hour 00..23 and minute 00..59.
// Returns: minutes and true, or 0 and false for malformed input.
func ParseClockMinutes(value string) (int, bool) {
	if len(value) != 5 || value[2] != ':' {
		return 0, false
	}
	for _, index := range []int{0, 1, 3, 4} {
		if value[index] < '0' || value[index] > '9' {
			return 0, false
		}
	}
	hours, err := strconv.Atoi(value[:2])
	if err != nil || hours > 23 {
		return 0, false
	}
	minutes, err := strconv.Atoi(value[3:])
	if err != nil || minutes > 59 {
		return 0, false
	}
	return hours*60 + minutes, true
}
