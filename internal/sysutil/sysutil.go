// Package sysutil collects process-level helpers: log level selection,
// tolerant parsing of environment flags and small string utilities shared
// by the integrations.
package sysutil

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a LOG_LEVEL value and
// returns the level applied. Matching is case-insensitive; "warning" is
// accepted for warn, and unknown or empty values mean info.
func SetLogLevel(lvl string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// ParseBool interprets an environment flag. ok is false when v is neither a
// recognised true value (1, true, yes, y, on) nor a false one
// (0, false, no, n, off).
func ParseBool(v string) (val, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

// IsTruthy reports whether v is a recognised true value.
func IsTruthy(v string) bool {
	b, ok := ParseBool(v)
	return ok && b
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// TruncateRunes cuts s to at most n runes. n <= 0 leaves s unchanged.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
