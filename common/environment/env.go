// Package environment provides helpers for loading configuration from environment variables.
//
// Every typed helper reads a variable and falls back to a default when the
// variable is unset, empty or unparsable. Required variables return an error
// rather than calling os.Exit, keeping business logic out of library code.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Prefix is the namespace used by the kioku binaries for their variables.
const Prefix = "KIOKU_"

// Name returns the fully-qualified variable name for key, e.g. Name("ADDR")
// returns "KIOKU_ADDR".
func Name(key string) string {
	return Prefix + key
}

// StringOr returns the value of the named environment variable, or defaultValue
// if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an error
// if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses the named environment variable with strconv.ParseBool.
func BoolOr(name string, defaultValue bool) bool {
	return parseOr(name, defaultValue, strconv.ParseBool)
}

// IntOr parses the named environment variable as a decimal integer.
func IntOr(name string, defaultValue int) int {
	return parseOr(name, defaultValue, strconv.Atoi)
}

// FloatOr parses the named environment variable as a float64 (e.g. a ratio
// such as "0.8").
func FloatOr(name string, defaultValue float64) float64 {
	return parseOr(name, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// DurationOr parses the named environment variable as a time.Duration (e.g.
// "30s", "5m", "1h").
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	return parseOr(name, defaultValue, time.ParseDuration)
}

// StringSliceOr parses the named environment variable as a comma-separated list
// of strings, trimming whitespace from each element.
func StringSliceOr(name string, defaultValue []string) []string {
	return parseOr(name, defaultValue, func(v string) ([]string, error) {
		var result []string
		for _, p := range strings.Split(v, ",") {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		return result, nil
	})
}

func parseOr[T any](name string, defaultValue T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}
	parsed, err := parse(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}
