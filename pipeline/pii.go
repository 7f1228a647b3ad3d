package pipeline

import "github.com/justapithecus/flume/types"

// DefaultPIIPatterns is the built-in pattern set for automatic PII
// redaction. Order matters: more specific patterns (credit card, IP)
// come before general ones (phone, email) so a general pattern cannot
// eat part of a value a specific pattern should match whole.
var DefaultPIIPatterns = []string{
	// Credit card numbers (16 digits, optionally space/dash grouped)
	`\b\d{4}(?:[ -]?\d{4}){3}\b`,
	// IPv4 addresses
	`\b(?:\d{1,3}\.){3}\d{1,3}\b`,
	// Phone numbers (various formats)
	`(?:\+?\d{1,3}[-.\s]?)?(?:\(?\d{3}\)?[-.\s]?)?\d{3}[-.\s]?\d{4}`,
	// Email addresses
	`[\w.-]+@[\w.-]+\.\w+`,
}

// NewPIIRedactor creates a redactor preloaded with the built-in PII
// pattern set. Mechanically identical to NewRedactor.
func NewPIIRedactor(replacement string, minLevel types.Level) (*Redactor, error) {
	return newRedactor("pii_redactor", RedactorConfig{
		Patterns:    DefaultPIIPatterns,
		Replacement: replacement,
		MinLevel:    minLevel,
	})
}
