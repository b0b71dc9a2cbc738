// Package schema converts the ticketing system's raw request-type field
// definitions into a form the dialogue can collect answers for, validates
// free-text answers against that form, and converts collected answers back
// into the wire shape the ticketing system expects at submission time.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// MaxOptions caps the normalized valid-value list per field.
const MaxOptions = 100

// descriptionFieldID is the well-known long-text field.
const descriptionFieldID = "description"

// NormalizeFields converts raw field definitions into normalized fields.
// The input type is a pure function of the raw schema and the presence of
// valid values. Options without a derivable label are dropped.
func NormalizeFields(raw []models.RawField) []models.RequestTypeField {
	fields := make([]models.RequestTypeField, 0, len(raw))
	for _, rf := range raw {
		fields = append(fields, models.RequestTypeField{
			FieldID:     rf.FieldID,
			Name:        rf.Name,
			Description: rf.Description,
			Required:    rf.Required,
			Visible:     rf.Visible,
			InputType:   inputTypeFor(rf),
			ValidValues: normalizeOptions(rf.ValidValues),
			Schema:      rf.Schema,
		})
	}
	return fields
}

// inputTypeFor derives the input type by precedence: options plus an array
// schema make a multi-select, options alone a select, then the schema type,
// then the well-known description field, then plain text.
func inputTypeFor(rf models.RawField) models.InputType {
	hasOptions := len(rf.ValidValues) > 0
	switch {
	case hasOptions && rf.Schema.Type == "array":
		return models.InputMultiSelect
	case hasOptions:
		return models.InputSelect
	case rf.Schema.Type == "number":
		return models.InputNumber
	case rf.Schema.Type == "date":
		return models.InputDate
	case rf.Schema.Type == "datetime":
		return models.InputDateTime
	case rf.FieldID == descriptionFieldID:
		return models.InputTextarea
	default:
		return models.InputText
	}
}

func normalizeOptions(raw []models.RawFieldOption) []models.FieldOption {
	var opts []models.FieldOption
	for _, ro := range raw {
		label := firstNonEmpty(ro.Label, ro.Name, ro.Value)
		if label == "" {
			continue
		}
		opts = append(opts, models.FieldOption{
			Label:     label,
			ID:        ro.ID,
			Value:     ro.Value,
			AccountID: ro.AccountID,
		})
		if len(opts) >= MaxOptions {
			break
		}
	}
	return opts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// MatchOption finds the option a user's text selects: by 1-based position,
// or case-insensitively by label, id, or value. First match wins,
// left-to-right.
func MatchOption(field models.RequestTypeField, input string) (models.FieldOption, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return models.FieldOption{}, false
	}
	if idx, err := strconv.Atoi(trimmed); err == nil && idx >= 1 && idx <= len(field.ValidValues) {
		return field.ValidValues[idx-1], true
	}
	for _, opt := range field.ValidValues {
		if strings.EqualFold(opt.Label, trimmed) ||
			(opt.ID != "" && strings.EqualFold(opt.ID, trimmed)) ||
			(opt.Value != "" && strings.EqualFold(opt.Value, trimmed)) {
			return opt, true
		}
	}
	return models.FieldOption{}, false
}

// ValidateAnswer checks a free-text answer against the field's input type
// and returns the value to store in the answer map: matched option objects
// for select types, a parsed number for number fields, the trimmed text
// otherwise. Invalid answers return an error so the dialogue re-prompts.
func ValidateAnswer(field models.RequestTypeField, input string) (interface{}, error) {
	trimmed := strings.TrimSpace(input)

	switch field.InputType {
	case models.InputSelect:
		opt, ok := MatchOption(field, trimmed)
		if !ok {
			return nil, fmt.Errorf("%q is not one of the available options", trimmed)
		}
		return optionAnswer(opt), nil

	case models.InputMultiSelect:
		if trimmed == "" {
			return nil, fmt.Errorf("please pick at least one option")
		}
		parts := strings.Split(trimmed, ",")
		answers := make([]interface{}, 0, len(parts))
		for _, part := range parts {
			opt, ok := MatchOption(field, part)
			if !ok {
				return nil, fmt.Errorf("%q is not one of the available options", strings.TrimSpace(part))
			}
			answers = append(answers, optionAnswer(opt))
		}
		return answers, nil

	case models.InputNumber:
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", trimmed)
		}
		return n, nil

	default:
		if trimmed == "" {
			return nil, fmt.Errorf("this field cannot be empty")
		}
		return trimmed, nil
	}
}

// optionAnswer stores a matched option with every identifier it carries so
// AnswerToWire can later pick the wire-preferred one.
func optionAnswer(opt models.FieldOption) map[string]interface{} {
	answer := map[string]interface{}{"label": opt.Label}
	if opt.ID != "" {
		answer["id"] = opt.ID
	}
	if opt.Value != "" {
		answer["value"] = opt.Value
	}
	if opt.AccountID != "" {
		answer["accountId"] = opt.AccountID
	}
	return answer
}

// AnswerToWire converts a stored answer into the shape the ticketing
// system's create-request endpoint expects for the field.
//
// Object and array answers go through the per-option wire normalizer
// (accountId, then id, then value, then name, then label). Scalar answers
// are matched against the field's options first; unmatched scalars fall
// back to coercion driven by the declared schema type.
func AnswerToWire(field models.RequestTypeField, answer interface{}) interface{} {
	switch v := answer.(type) {
	case map[string]interface{}:
		return optionToWire(v)
	case []interface{}:
		wire := make([]interface{}, 0, len(v))
		for _, item := range v {
			wire = append(wire, AnswerToWire(field, item))
		}
		return wire
	case string:
		if opt, ok := MatchOption(field, v); ok {
			return optionToWire(optionAnswer(opt))
		}
		return coerceScalar(field, v)
	default:
		return answer
	}
}

// optionToWire reduces an option-shaped object to the single identifier the
// ticketing system prefers.
func optionToWire(obj map[string]interface{}) interface{} {
	if v, ok := nonEmptyString(obj, "accountId"); ok {
		return map[string]interface{}{"accountId": v}
	}
	if v, ok := nonEmptyString(obj, "id"); ok {
		return map[string]interface{}{"id": v}
	}
	if v, ok := nonEmptyString(obj, "value"); ok {
		return map[string]interface{}{"value": v}
	}
	if v, ok := nonEmptyString(obj, "name"); ok {
		return map[string]interface{}{"name": v}
	}
	if v, ok := nonEmptyString(obj, "label"); ok {
		return map[string]interface{}{"value": v}
	}
	return obj
}

func nonEmptyString(obj map[string]interface{}, key string) (string, bool) {
	v, ok := obj[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// coerceScalar applies schema-type-driven coercion to an unmatched scalar.
func coerceScalar(field models.RequestTypeField, s string) interface{} {
	trimmed := strings.TrimSpace(s)
	switch field.Schema.Type {
	case "number":
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return n
		}
		return trimmed
	case "array":
		parts := strings.Split(trimmed, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	default:
		return trimmed
	}
}
