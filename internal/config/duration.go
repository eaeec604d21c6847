package config

import (
	"fmt"
	"strings"
	"time"
)

// MinPollInterval keeps autostats from hammering the Hypixel API when the
// interval is misconfigured.
const MinPollInterval = 2 * time.Second

// ParseDurationField parses a Go duration string. Empty means unset and
// yields zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// durationOr is used by the accessors: Validate has already reported
// malformed values, so errors fall back to def here. The result is never
// below floor.
func durationOr(raw string, def, floor time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		d = def
	}
	return max(d, floor)
}
