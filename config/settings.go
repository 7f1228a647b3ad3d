// Package config defines flume's settings surface: programmatic
// structs, environment variables, and YAML files, plus the sink URI
// grammar. Settings are validated eagerly so misconfiguration fails at
// configure time, never at runtime.
package config

import (
	"time"

	"github.com/justapithecus/flume/types"
)

// Settings is the complete configuration for one container.
type Settings struct {
	Core       CoreSettings       `yaml:"core"`
	Queue      QueueSettings      `yaml:"queue"`
	Security   SecuritySettings   `yaml:"security"`
	Validation ValidationSettings `yaml:"validation"`
	Metrics    MetricsSettings    `yaml:"metrics"`
}

// CoreSettings configure the chain entry and console rendering.
type CoreSettings struct {
	// Level is the minimum level at which events enter the chain.
	Level string `yaml:"level"`
	// JSONConsole is auto, json, or pretty.
	JSONConsole string `yaml:"json_console"`
	// Sinks is the ordered list of sink URIs.
	Sinks []string `yaml:"sinks"`
	// SamplingRate applies global pre-queue sampling in [0,1].
	SamplingRate float64 `yaml:"sampling_rate"`
}

// QueueSettings configure the async delivery queue.
type QueueSettings struct {
	Enabled      bool    `yaml:"enabled"`
	MaxSize      int     `yaml:"maxsize"`
	Overflow     string  `yaml:"overflow"`
	BatchSize    int     `yaml:"batch_size"`
	BatchTimeout float64 `yaml:"batch_timeout"` // seconds
	RetryDelay   float64 `yaml:"retry_delay"`   // seconds
	MaxRetries   int     `yaml:"max_retries"`
}

// SecuritySettings configure redaction and the stateful processors.
type SecuritySettings struct {
	RedactPatterns      []string `yaml:"redact_patterns"`
	RedactFields        []string `yaml:"redact_fields"`
	RedactReplacement   string   `yaml:"redact_replacement"`
	RedactLevel         string   `yaml:"redact_level"`
	EnableAutoRedactPII bool     `yaml:"enable_auto_redact_pii"`

	EnableThrottling      bool    `yaml:"enable_throttling"`
	ThrottleMaxRate       int     `yaml:"throttle_max_rate"`
	ThrottleWindowSeconds int     `yaml:"throttle_window_seconds"`
	ThrottleKeyField      string  `yaml:"throttle_key_field"`
	ThrottleStrategy      string  `yaml:"throttle_strategy"`

	EnableDeduplication bool     `yaml:"enable_deduplication"`
	DedupeWindowSeconds int      `yaml:"dedupe_window_seconds"`
	DedupeFields        []string `yaml:"dedupe_fields"`
	DedupeMaxCacheSize  int      `yaml:"dedupe_max_cache_size"`
	DedupeHashAlgorithm string   `yaml:"dedupe_hash_algorithm"`
}

// ValidationSettings configure event validation.
type ValidationSettings struct {
	Enabled        bool              `yaml:"enabled"`
	Mode           string            `yaml:"mode"`
	RequiredFields []string          `yaml:"required_fields"`
	FieldTypes     map[string]string `yaml:"field_types"`
}

// MetricsSettings configure observability.
type MetricsSettings struct {
	Enabled           bool   `yaml:"enabled"`
	SampleWindow      int    `yaml:"sample_window"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusHost    string `yaml:"prometheus_host"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// Defaults returns the settings a container uses when given nothing.
func Defaults() Settings {
	return Settings{
		Core: CoreSettings{
			Level:        "INFO",
			JSONConsole:  "auto",
			Sinks:        []string{"stdout"},
			SamplingRate: 1.0,
		},
		Queue: QueueSettings{
			Enabled:      true,
			MaxSize:      1000,
			Overflow:     "drop",
			BatchSize:    10,
			BatchTimeout: 1.0,
			RetryDelay:   1.0,
			MaxRetries:   3,
		},
		Security: SecuritySettings{
			RedactReplacement:     "REDACTED",
			RedactLevel:           "INFO",
			ThrottleMaxRate:       100,
			ThrottleWindowSeconds: 60,
			ThrottleKeyField:      "source",
			ThrottleStrategy:      "drop",
			DedupeWindowSeconds:   300,
			DedupeFields:          []string{"event", "level", "hostname"},
			DedupeMaxCacheSize:    10000,
			DedupeHashAlgorithm:   "md5",
		},
		Validation: ValidationSettings{
			Mode:           "lenient",
			RequiredFields: []string{"timestamp", "level", "event"},
		},
		Metrics: MetricsSettings{
			SampleWindow:   100,
			PrometheusHost: "0.0.0.0",
			PrometheusPort: 8000,
		},
	}
}

// Validate checks every group and returns the first offending setting.
func (s *Settings) Validate() error {
	if _, err := types.ParseLevel(s.Core.Level); err != nil {
		return NewError("level", s.Core.Level, "one of DEBUG, INFO, WARN, ERROR, CRITICAL")
	}
	switch s.Core.JSONConsole {
	case "auto", "json", "pretty":
	default:
		return NewError("json_console", s.Core.JSONConsole, "one of auto, json, pretty")
	}
	if s.Core.SamplingRate < 0 || s.Core.SamplingRate > 1 {
		return NewError("sampling_rate", s.Core.SamplingRate, "a float in [0,1]")
	}
	if len(s.Core.Sinks) == 0 {
		return NewError("sinks", s.Core.Sinks, "at least one sink URI")
	}

	if s.Queue.MaxSize <= 0 {
		return NewError("queue.maxsize", s.Queue.MaxSize, "a positive integer")
	}
	switch s.Queue.Overflow {
	case "drop", "block", "sample":
	default:
		return NewError("queue.overflow", s.Queue.Overflow, "one of block, drop, sample")
	}
	if s.Queue.BatchSize < 1 {
		return NewError("queue.batch_size", s.Queue.BatchSize, "an integer >= 1")
	}
	if s.Queue.BatchTimeout <= 0 {
		return NewError("queue.batch_timeout", s.Queue.BatchTimeout, "a positive float (seconds)")
	}
	if s.Queue.RetryDelay <= 0 {
		return NewError("queue.retry_delay", s.Queue.RetryDelay, "a positive float (seconds)")
	}
	if s.Queue.MaxRetries < 0 {
		return NewError("queue.max_retries", s.Queue.MaxRetries, "a non-negative integer")
	}

	if _, err := types.ParseLevel(s.Security.RedactLevel); err != nil {
		return NewError("security.redact_level", s.Security.RedactLevel, "a log level name")
	}
	if s.Security.EnableThrottling {
		if s.Security.ThrottleMaxRate <= 0 {
			return NewError("security.throttle_max_rate", s.Security.ThrottleMaxRate, "a positive integer")
		}
		if s.Security.ThrottleWindowSeconds <= 0 {
			return NewError("security.throttle_window_seconds", s.Security.ThrottleWindowSeconds, "a positive integer")
		}
		if s.Security.ThrottleKeyField == "" {
			return NewError("security.throttle_key_field", s.Security.ThrottleKeyField, "a non-empty field name")
		}
		switch s.Security.ThrottleStrategy {
		case "drop", "sample":
		default:
			return NewError("security.throttle_strategy", s.Security.ThrottleStrategy, "one of drop, sample")
		}
	}
	if s.Security.EnableDeduplication {
		if s.Security.DedupeWindowSeconds <= 0 {
			return NewError("security.dedupe_window_seconds", s.Security.DedupeWindowSeconds, "a positive integer")
		}
		if len(s.Security.DedupeFields) == 0 {
			return NewError("security.dedupe_fields", s.Security.DedupeFields, "a non-empty field list")
		}
		switch s.Security.DedupeHashAlgorithm {
		case "md5", "sha1", "sha256":
		default:
			return NewError("security.dedupe_hash_algorithm", s.Security.DedupeHashAlgorithm, "one of md5, sha1, sha256")
		}
	}

	if s.Validation.Enabled {
		switch s.Validation.Mode {
		case "strict", "lenient", "fix":
		default:
			return NewError("validation.mode", s.Validation.Mode, "one of strict, lenient, fix")
		}
	}

	if s.Metrics.SampleWindow <= 0 {
		return NewError("metrics.sample_window", s.Metrics.SampleWindow, "a positive integer")
	}
	if s.Metrics.PrometheusEnabled {
		if s.Metrics.PrometheusPort < 0 || s.Metrics.PrometheusPort > 65535 {
			return NewError("metrics.prometheus_port", s.Metrics.PrometheusPort, "a port in [0,65535]")
		}
	}

	return nil
}

// MinLevel returns the parsed minimum level. Call after Validate.
func (s *Settings) MinLevel() types.Level {
	lvl, err := types.ParseLevel(s.Core.Level)
	if err != nil {
		return types.LevelInfo
	}
	return lvl
}

// BatchTimeoutDuration converts the float seconds field.
func (q *QueueSettings) BatchTimeoutDuration() time.Duration {
	return time.Duration(q.BatchTimeout * float64(time.Second))
}

// RetryDelayDuration converts the float seconds field.
func (q *QueueSettings) RetryDelayDuration() time.Duration {
	return time.Duration(q.RetryDelay * float64(time.Second))
}
