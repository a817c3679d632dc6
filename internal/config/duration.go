package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinInterval is the shortest accepted monitor.interval.
const MinInterval = time.Second

// ParseDurationField parses a Go duration string. A bare number is read as
// seconds, so "30" and "30s" mean the same. Empty is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseInt(s, 10, 32); err == nil {
		d = time.Duration(secs) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// parseDurationAtLeast rejects set values below floor; empty stays 0.
func parseDurationAtLeast(path, raw string, floor time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d != 0 && d < floor {
		return 0, fmt.Errorf("%s: must be at least %s", path, floor)
	}
	return d, nil
}
