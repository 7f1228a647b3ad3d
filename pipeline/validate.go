package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/justapithecus/flume/types"
)

// Validation modes.
const (
	ValidateStrict  = "strict"  // invalid events drop
	ValidateLenient = "lenient" // invalid events pass, annotated
	ValidateFix     = "fix"     // defaults and coercions applied, drop if still invalid
)

// validationErrorsKey is the field lenient mode attaches failures to.
const validationErrorsKey = "_validation_errors"

// ValidatorConfig configures event validation.
type ValidatorConfig struct {
	// RequiredFields must be present (and non-nil).
	RequiredFields []string
	// FieldTypes maps field names to expected type names:
	// string, int, float, bool.
	FieldTypes map[string]string
	// Mode is strict, lenient, or fix (default lenient).
	Mode string
}

// Validator checks events for required fields and field types.
type Validator struct {
	cfg ValidatorConfig
	now func() time.Time
}

// NewValidator validates the config and creates a validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ValidateLenient
	case ValidateStrict, ValidateLenient, ValidateFix:
	default:
		return nil, fmt.Errorf("validation mode must be strict, lenient, or fix, got %q", cfg.Mode)
	}
	for field, typeName := range cfg.FieldTypes {
		switch typeName {
		case "string", "int", "float", "bool":
		default:
			return nil, fmt.Errorf("unknown expected type %q for field %q", typeName, field)
		}
	}
	return &Validator{cfg: cfg, now: time.Now}, nil
}

// Name implements Processor.
func (v *Validator) Name() string { return "validator" }

// Process implements Processor.
func (v *Validator) Process(_ context.Context, event types.Event) (types.Event, error) {
	failures := v.check(event)
	if len(failures) == 0 {
		return event, nil
	}

	switch v.cfg.Mode {
	case ValidateStrict:
		return nil, nil
	case ValidateFix:
		v.fix(event)
		if remaining := v.check(event); len(remaining) > 0 {
			return nil, nil
		}
		return event, nil
	default: // lenient
		msgs := make([]any, 0, len(failures))
		for _, f := range failures {
			msgs = append(msgs, f)
		}
		event[validationErrorsKey] = msgs
		return event, nil
	}
}

// check returns a description of each failure.
func (v *Validator) check(event types.Event) []string {
	var failures []string

	for _, field := range v.cfg.RequiredFields {
		if val, ok := event[field]; !ok || val == nil {
			failures = append(failures, fmt.Sprintf("missing required field %q", field))
		}
	}

	for field, typeName := range v.cfg.FieldTypes {
		val, ok := event[field]
		if !ok || val == nil {
			continue
		}
		if !typeMatches(val, typeName) {
			failures = append(failures, fmt.Sprintf("field %q is %T, expected %s", field, val, typeName))
		}
	}

	return failures
}

// fix supplies defaults for missing required fields and coerces types
// where a lossless coercion exists.
func (v *Validator) fix(event types.Event) {
	for _, field := range v.cfg.RequiredFields {
		if val, ok := event[field]; ok && val != nil {
			continue
		}
		switch field {
		case types.KeyTimestamp:
			event[field] = v.now().UTC().Format(types.TimestampFormat)
		case types.KeyLevel:
			event[field] = types.LevelInfo.String()
		case types.KeyEvent, types.KeyMessage:
			event[field] = "Unknown event"
		}
	}

	for field, typeName := range v.cfg.FieldTypes {
		val, ok := event[field]
		if !ok || val == nil || typeMatches(val, typeName) {
			continue
		}
		if coerced, ok := coerce(val, typeName); ok {
			event[field] = coerced
		}
	}
}

func typeMatches(val any, typeName string) bool {
	switch typeName {
	case "string":
		_, ok := val.(string)
		return ok
	case "int":
		switch val.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case "float":
		switch val.(type) {
		case float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := val.(bool)
		return ok
	}
	return false
}

// coerce converts val to the expected type when no information is lost.
func coerce(val any, typeName string) (any, bool) {
	switch typeName {
	case "string":
		switch v := val.(type) {
		case int:
			return strconv.Itoa(v), true
		case int64:
			return strconv.FormatInt(v, 10), true
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), true
		case bool:
			return strconv.FormatBool(v), true
		}
	case "int":
		switch v := val.(type) {
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, true
			}
		case float64:
			if v == float64(int64(v)) {
				return int64(v), true
			}
		}
	case "float":
		switch v := val.(type) {
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	case "bool":
		if v, ok := val.(string); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b, true
			}
		}
	}
	return nil, false
}
