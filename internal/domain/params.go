package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeltaPlaceholder is substituted with the alert delta in template parameters.
const DeltaPlaceholder = "{delta}"

// ParamValue is one rule parameter: Scalar, SeverityVariant, or DeltaTemplate.
// Params: sealed set of variants declared in this package.
// Returns: raw JSON-compatible value via Raw.
type ParamValue interface {
	Raw() any
	isParamValue()
}

// Scalar is a parameter passed through unchanged.
type Scalar struct {
	Value any
}

// SeverityVariant holds per-severity values keyed by severity name.
type SeverityVariant map[Severity]any

// DeltaTemplate is a string carrying the {delta} placeholder.
type DeltaTemplate string

func (Scalar) isParamValue()          {}
func (SeverityVariant) isParamValue() {}
func (DeltaTemplate) isParamValue()   {}

// Raw returns scalar payload.
func (s Scalar) Raw() any { return s.Value }

// Raw returns variant map as plain object.
func (v SeverityVariant) Raw() any {
	out := make(map[string]any, len(v))
	for key, value := range v {
		out[string(key)] = value
	}
	return out
}

// Raw returns template text.
func (t DeltaTemplate) Raw() any { return string(t) }

// Params is the parameter map of one rule.
// Params: parameter name to tagged value.
// Returns: JSON object in the plain untyped shape stored on disk.
type Params map[string]ParamValue

// ParamFromRaw classifies one decoded value into its parameter variant.
// Params: value decoded from JSON or TOML.
// Returns: SeverityVariant for objects with both warn and crit keys,
// DeltaTemplate for strings containing {delta}, Scalar otherwise.
func ParamFromRaw(raw any) ParamValue {
	switch typed := raw.(type) {
	case map[string]any:
		_, hasWarn := typed[string(SeverityWarn)]
		_, hasCrit := typed[string(SeverityCrit)]
		if hasWarn && hasCrit {
			variant := make(SeverityVariant, len(typed))
			for key, value := range typed {
				variant[Severity(key)] = value
			}
			return variant
		}
	case string:
		if strings.Contains(typed, DeltaPlaceholder) {
			return DeltaTemplate(typed)
		}
	}
	return Scalar{Value: raw}
}

// ParamsFromRaw classifies every entry of a decoded object.
// Params: decoded parameter object (nil allowed).
// Returns: typed parameter map, never nil.
func ParamsFromRaw(raw map[string]any) Params {
	out := make(Params, len(raw))
	for key, value := range raw {
		out[key] = ParamFromRaw(value)
	}
	return out
}

// MarshalJSON encodes params in their untyped object form.
// Params: typed params.
// Returns: JSON object bytes.
func (p Params) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p))
	for key, value := range p {
		if value == nil {
			out[key] = nil
			continue
		}
		out[key] = value.Raw()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an untyped object and classifies each value.
// Params: JSON object bytes.
// Returns: decode error for non-object payloads.
func (p *Params) UnmarshalJSON(body []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	*p = ParamsFromRaw(raw)
	return nil
}

// Clone copies the params map and any variant maps.
// Params: source params.
// Returns: independent params map; scalar payloads are shared.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for key, value := range p {
		if variant, ok := value.(SeverityVariant); ok {
			copied := make(SeverityVariant, len(variant))
			for sev, v := range variant {
				copied[sev] = v
			}
			out[key] = copied
			continue
		}
		out[key] = value
	}
	return out
}
