package domain

import (
	"encoding/json"
	"fmt"
)

// Alert is a transient notification that a KPI crossed a threshold.
// Params: alert identity, KPI id, display text, severity, and optional delta.
// Returns: evaluation input; never persisted.
type Alert struct {
	ID       string   `json:"id"`
	KPIID    string   `json:"kpiId"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Delta    *float64 `json:"delta,omitempty"`
}

// DecodeAlert decodes and validates one alert payload.
// Params: JSON document bytes.
// Returns: validated alert or decode/validation error.
func DecodeAlert(raw []byte) (Alert, error) {
	var alert Alert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return Alert{}, fmt.Errorf("%w: decode alert: %v", ErrValidation, err)
	}
	if err := alert.Validate(); err != nil {
		return Alert{}, err
	}
	return alert, nil
}
