// Package environment reads typed settings from environment variables.
//
// Every helper returns the parsed value or the supplied default. A variable
// that is set but unparsable is treated as unset; RequiredString is the only
// helper that reports an error.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the raw value and whether the variable is set at all.
func String(name string) (string, bool) {
	return os.LookupEnv(name)
}

// StringOr returns the value, or def when the variable is unset or empty.
func StringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// RequiredString returns the value or an error when it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// parseOr applies parse to the variable's trimmed value, falling back to def.
func parseOr[T any](name string, def T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

// BoolOr accepts the strconv.ParseBool spellings.
func BoolOr(name string, def bool) bool {
	return parseOr(name, def, strconv.ParseBool)
}

func IntOr(name string, def int) int {
	return parseOr(name, def, strconv.Atoi)
}

func Float64Or(name string, def float64) float64 {
	return parseOr(name, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// DurationOr accepts time.ParseDuration syntax ("30s", "2m").
func DurationOr(name string, def time.Duration) time.Duration {
	return parseOr(name, def, time.ParseDuration)
}

// StringSliceOr splits a comma-separated list, dropping blank elements.
func StringSliceOr(name string, def []string) []string {
	return parseOr(name, def, func(s string) ([]string, error) {
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		return out, nil
	})
}
