package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields in the config file are Go duration strings ("30s", "5m").
// An empty string means unset; callers decide whether unset falls back to a
// default or simply disables the feature (e.g. reminder.dedup_window).

// ParseDurationField parses one optional duration field. Unset yields zero.
// Negative durations are rejected: no timeout, interval, or window in this
// config is meaningful below zero.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config %s: %q is not a duration (want e.g. \"30s\", \"5m\"): %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config %s: negative duration %q", field, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField for fields where unset means
// "use the built-in default" rather than "disabled".
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
