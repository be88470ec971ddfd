package engine

import (
	"math"
	"strconv"
	"strings"

	"kpipolicy/internal/domain"
)

// ResolveParams expands rule parameters for one alert severity.
// Params: rule, alert severity, and optional alert for {delta} substitution.
// Returns: map with exactly the rule parameter keys and concrete values.
func ResolveParams(rule domain.Rule, severity domain.Severity, alert *domain.Alert) map[string]any {
	resolved := make(map[string]any, len(rule.Params))
	for key, value := range rule.Params {
		resolved[key] = resolveValue(value, severity, alert)
	}
	return resolved
}

// resolveValue resolves one tagged parameter.
// Params: parameter variant, severity, optional alert.
// Returns: concrete value.
func resolveValue(value domain.ParamValue, severity domain.Severity, alert *domain.Alert) any {
	switch typed := value.(type) {
	case domain.SeverityVariant:
		if picked, ok := typed[severity]; ok && picked != nil {
			return picked
		}
		return typed[domain.SeverityWarn]
	case domain.DeltaTemplate:
		if alert == nil || alert.Delta == nil {
			return string(typed)
		}
		return strings.ReplaceAll(string(typed), domain.DeltaPlaceholder, formatDelta(*alert.Delta))
	case domain.Scalar:
		return typed.Value
	default:
		return nil
	}
}

// formatDelta renders delta in shortest decimal form ("-40", "1.5").
// Magnitudes outside [1e-6, 1e21) use exponent form without padding ("1e+21", "1e-7").
func formatDelta(delta float64) string {
	abs := math.Abs(delta)
	if delta == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(delta, 'f', -1, 64)
	}
	text := strconv.FormatFloat(delta, 'e', -1, 64)
	mantissa, exponent, _ := strings.Cut(text, "e")
	sign, digits := exponent[:1], strings.TrimLeft(exponent[1:], "0")
	return mantissa + "e" + sign + digits
}
