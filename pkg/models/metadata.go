package models

import (
	"encoding/json"
	"strconv"
)

// Well-known step metadata keys read by the entity adapters.
const (
	MetadataDealProbability        = "deal_probability"
	MetadataLeadQualified          = "lead_qualified"
	MetadataLeadQualificationLevel = "lead_qualification_level"
	MetadataStageName              = "stage_name"
)

// StepMetadata is the opaque key-value extension point of a step.
// Unknown keys are preserved as-is.
type StepMetadata map[string]any

// Number reads a numeric value. JSON, YAML and Go callers produce different numeric types,
// all of them are accepted.
func (m StepMetadata) Number(key string) (float64, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, false
	}

	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// Bool reads a boolean value.
func (m StepMetadata) Bool(key string) (bool, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return false, false
	}

	b, ok := raw.(bool)

	return b, ok
}

// String reads a string value.
func (m StepMetadata) String(key string) (string, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", false
	}

	s, ok := raw.(string)

	return s, ok
}
