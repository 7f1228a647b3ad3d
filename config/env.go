package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// envPrefix is the prefix every flume environment variable carries.
const envPrefix = "FLUME_"

// LoadDotenv loads a .env file into the process environment without
// overriding variables already set. Missing files are not an error.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// FromEnv overlays FLUME_* environment variables onto the given
// settings. Unset variables leave the corresponding field untouched,
// so callers compose Defaults() → file → env → programmatic.
func FromEnv(s Settings) Settings {
	envString(&s.Core.Level, "LEVEL")
	envString(&s.Core.JSONConsole, "JSON_CONSOLE")
	envStringList(&s.Core.Sinks, "SINKS")
	envFloat(&s.Core.SamplingRate, "SAMPLING_RATE")

	envBool(&s.Queue.Enabled, "QUEUE_ENABLED")
	envInt(&s.Queue.MaxSize, "QUEUE_MAXSIZE")
	envString(&s.Queue.Overflow, "QUEUE_OVERFLOW")
	envInt(&s.Queue.BatchSize, "QUEUE_BATCH_SIZE")
	envFloat(&s.Queue.BatchTimeout, "QUEUE_BATCH_TIMEOUT")
	envFloat(&s.Queue.RetryDelay, "QUEUE_RETRY_DELAY")
	envInt(&s.Queue.MaxRetries, "QUEUE_MAX_RETRIES")

	envStringList(&s.Security.RedactPatterns, "REDACT_PATTERNS")
	envStringList(&s.Security.RedactFields, "REDACT_FIELDS")
	envString(&s.Security.RedactReplacement, "REDACT_REPLACEMENT")
	envString(&s.Security.RedactLevel, "REDACT_LEVEL")
	envBool(&s.Security.EnableAutoRedactPII, "ENABLE_AUTO_REDACT_PII")

	envBool(&s.Security.EnableThrottling, "ENABLE_THROTTLING")
	envInt(&s.Security.ThrottleMaxRate, "THROTTLE_MAX_RATE")
	envInt(&s.Security.ThrottleWindowSeconds, "THROTTLE_WINDOW_SECONDS")
	envString(&s.Security.ThrottleKeyField, "THROTTLE_KEY_FIELD")
	envString(&s.Security.ThrottleStrategy, "THROTTLE_STRATEGY")

	envBool(&s.Security.EnableDeduplication, "ENABLE_DEDUPLICATION")
	envInt(&s.Security.DedupeWindowSeconds, "DEDUPE_WINDOW_SECONDS")
	envStringList(&s.Security.DedupeFields, "DEDUPE_FIELDS")
	envInt(&s.Security.DedupeMaxCacheSize, "DEDUPE_MAX_CACHE_SIZE")
	envString(&s.Security.DedupeHashAlgorithm, "DEDUPE_HASH_ALGORITHM")

	envBool(&s.Metrics.Enabled, "METRICS_ENABLED")
	envInt(&s.Metrics.SampleWindow, "METRICS_SAMPLE_WINDOW")
	envBool(&s.Metrics.PrometheusEnabled, "PROMETHEUS_ENABLED")
	envString(&s.Metrics.PrometheusHost, "PROMETHEUS_HOST")
	envInt(&s.Metrics.PrometheusPort, "PROMETHEUS_PORT")

	return s
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func envStringList(dst *[]string, key string) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*dst = out
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			*dst = b
		}
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
