package types

import (
	"fmt"
	"strings"
)

// Level represents log severity. Comparisons are numeric: a Level is
// greater than another when its weight is higher.
type Level int

// Level constants with standard numeric weights.
const (
	LevelDebug    Level = 10
	LevelInfo     Level = 20
	LevelWarn     Level = 30
	LevelError    Level = 40
	LevelCritical Level = 50
)

// levelNames maps levels to their canonical uppercase names.
var levelNames = map[Level]string{
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarn:     "WARN",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

// String returns the canonical uppercase name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel parses a level name case-insensitively.
// "WARNING" is accepted as an alias for WARN.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("unknown log level: %q", s)
}

// LevelOf reads the "level" key of an event. Missing or unparseable
// levels default to INFO so that gates fail safe rather than drop.
func LevelOf(e Event) Level {
	raw, ok := e[KeyLevel]
	if !ok {
		return LevelInfo
	}
	switch v := raw.(type) {
	case Level:
		return v
	case string:
		if lvl, err := ParseLevel(v); err == nil {
			return lvl
		}
	}
	return LevelInfo
}
