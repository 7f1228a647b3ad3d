package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/justapithecus/flume/types"
)

// DefaultReplacement is the redaction placeholder when none is configured.
const DefaultReplacement = "REDACTED"

// RedactorConfig configures pattern- and field-based redaction.
type RedactorConfig struct {
	// Patterns are regexes applied to every string value, in declared
	// order. More specific patterns must be listed before general ones.
	Patterns []string
	// FieldPaths are dotted paths whose values are replaced outright.
	// For lists, the path applies to each mapping element.
	FieldPaths []string
	// Replacement is the substitution text (default "REDACTED").
	Replacement string
	// MinLevel gates redaction: events below it pass unchanged.
	MinLevel types.Level
}

// Redactor masks configured patterns and field paths in events at or
// above the configured level.
type Redactor struct {
	name        string
	patterns    []*regexp.Regexp
	fieldPaths  [][]string
	replacement string
	minLevel    types.Level
}

// NewRedactor compiles the configured patterns. Invalid regexes are a
// configuration error.
func NewRedactor(cfg RedactorConfig) (*Redactor, error) {
	return newRedactor("redactor", cfg)
}

func newRedactor(name string, cfg RedactorConfig) (*Redactor, error) {
	compiled := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	paths := make([][]string, 0, len(cfg.FieldPaths))
	for _, p := range cfg.FieldPaths {
		paths = append(paths, strings.Split(p, "."))
	}

	replacement := cfg.Replacement
	if replacement == "" {
		replacement = DefaultReplacement
	}
	minLevel := cfg.MinLevel
	if minLevel == 0 {
		minLevel = types.LevelInfo
	}

	return &Redactor{
		name:        name,
		patterns:    compiled,
		fieldPaths:  paths,
		replacement: replacement,
		minLevel:    minLevel,
	}, nil
}

// Name implements Processor.
func (r *Redactor) Name() string { return r.name }

// Process implements Processor.
func (r *Redactor) Process(_ context.Context, event types.Event) (types.Event, error) {
	if types.LevelOf(event) < r.minLevel {
		return event, nil
	}

	if len(r.patterns) > 0 {
		for k, v := range event {
			event[k] = r.redactValue(v)
		}
	}

	for _, path := range r.fieldPaths {
		redactPath(map[string]any(event), path, r.replacement)
	}

	return event, nil
}

// redactValue applies the patterns recursively through maps, lists,
// and strings. Non-string scalars pass through untouched.
func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.redactString(val)
	case map[string]any:
		for k, inner := range val {
			val[k] = r.redactValue(inner)
		}
		return val
	case types.Event:
		for k, inner := range val {
			val[k] = r.redactValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = r.redactValue(inner)
		}
		return val
	default:
		return v
	}
}

// redactString replaces matches non-overlappingly, patterns applied in
// declared order.
func (r *Redactor) redactString(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, r.replacement)
		if s == r.replacement {
			break
		}
	}
	return s
}

// redactPath sets the value at a dotted path to the replacement,
// descending through nested maps and applying to each mapping element
// of lists.
func redactPath(data map[string]any, keys []string, replacement string) {
	if len(keys) == 0 {
		return
	}
	if len(keys) == 1 {
		if _, ok := data[keys[0]]; ok {
			data[keys[0]] = replacement
		}
		return
	}

	next, ok := data[keys[0]]
	if !ok {
		return
	}
	switch val := next.(type) {
	case map[string]any:
		redactPath(val, keys[1:], replacement)
	case types.Event:
		redactPath(map[string]any(val), keys[1:], replacement)
	case []any:
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				redactPath(m, keys[1:], replacement)
			}
		}
	}
}
