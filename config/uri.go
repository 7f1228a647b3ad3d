package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// schemePattern is the RFC 3986 scheme grammar: letters, digits, +, -,
// ., starting with a letter. Underscores are rejected.
var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*$`)

// SinkURI is a parsed sink address. Query values are coerced: "true"/
// "false" to bool, digit strings to int64, dotted numerics to float64,
// everything else stays a string.
type SinkURI struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	Path     string
	Params   map[string]any
}

// ValidateScheme reports whether a scheme follows the grammar.
func ValidateScheme(scheme string) bool {
	return schemePattern.MatchString(scheme)
}

// SuggestScheme turns an invalid scheme into a plausible valid one,
// mainly replacing underscores with hyphens.
func SuggestScheme(invalid string) string {
	suggestion := strings.ReplaceAll(invalid, "_", "-")
	if suggestion != "" && !isLetter(suggestion[0]) {
		suggestion = "scheme-" + suggestion
	}
	suggestion = regexp.MustCompile(`[^a-zA-Z0-9+.-]`).ReplaceAllString(suggestion, "-")
	if suggestion == "" {
		return "my-scheme"
	}
	return suggestion
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// ParseSinkURI parses and validates one sink URI. A bare word with no
// "://" is treated as a scheme-only URI (e.g. "stdout").
func ParseSinkURI(raw string) (*SinkURI, error) {
	if raw == "" {
		return nil, NewError("sinks", raw, "a non-empty sink URI")
	}

	// Scheme-only shorthand.
	if !strings.Contains(raw, "://") {
		if !ValidateScheme(raw) {
			return nil, schemeError(raw)
		}
		return &SinkURI{Scheme: strings.ToLower(raw), Params: map[string]any{}}, nil
	}

	// Validate the scheme before url.Parse: Go parses underscore
	// schemes happily, but the grammar forbids them.
	rawScheme := raw[:strings.Index(raw, "://")]
	if !ValidateScheme(rawScheme) {
		return nil, schemeError(rawScheme)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, NewError("sinks", raw, fmt.Sprintf("a parseable URI (%v)", err))
	}

	out := &SinkURI{
		Scheme: strings.ToLower(parsed.Scheme),
		Host:   parsed.Hostname(),
		Path:   parsed.Path,
		Params: map[string]any{},
	}
	if parsed.User != nil {
		out.User = parsed.User.Username()
		out.Password, _ = parsed.User.Password()
	}
	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return nil, NewError("sinks", raw, "a port in [0,65535]")
		}
		out.Port = port
	}

	for key, values := range parsed.Query() {
		if len(values) == 0 {
			continue
		}
		out.Params[key] = CoerceQueryValue(values[len(values)-1])
	}

	return out, nil
}

func schemeError(scheme string) error {
	return NewError("sinks", scheme, fmt.Sprintf(
		"a URI scheme of letters, digits, +, -, . starting with a letter "+
			"(underscores are not allowed; try %q)", SuggestScheme(scheme)))
}

// CoerceQueryValue applies the query coercion rules.
func CoerceQueryValue(v string) any {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

// String renders the URI back into its textual form. Parameters render
// sorted so parse → render → parse preserves the parameter set.
func (u *SinkURI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)

	if u.Host == "" && u.Path == "" && len(u.Params) == 0 && u.User == "" {
		return b.String()
	}
	b.WriteString("://")

	if u.User != "" {
		b.WriteString(url.UserPassword(u.User, u.Password).String())
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != 0 {
		fmt.Fprintf(&b, ":%d", u.Port)
	}
	b.WriteString(u.Path)

	if len(u.Params) > 0 {
		keys := make([]string, 0, len(u.Params))
		for k := range u.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(fmt.Sprintf("%v", u.Params[k])))
		}
	}
	return b.String()
}

// ParamString returns a string parameter or the default.
func (u *SinkURI) ParamString(key, def string) string {
	if v, ok := u.Params[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return def
}

// ParamInt returns an integer parameter or the default.
func (u *SinkURI) ParamInt(key string, def int64) int64 {
	switch v := u.Params[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return def
}

// ParamFloat returns a float parameter or the default.
func (u *SinkURI) ParamFloat(key string, def float64) float64 {
	switch v := u.Params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return def
}

// ParamBool returns a boolean parameter or the default.
func (u *SinkURI) ParamBool(key string, def bool) bool {
	if v, ok := u.Params[key].(bool); ok {
		return v
	}
	return def
}
