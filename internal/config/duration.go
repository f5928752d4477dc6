package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file are Go duration strings ("20h", "8s"). They
// stay strings until the app maps them into component configs, so a bad
// field fails with its own name instead of failing the whole decode.

// ParseDurationField parses one duration field. Empty means unset (0).
// Negative values are rejected; every duration here is a delay or an
// interval.
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
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for unset
// fields, for everything that carries a documented default.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
