package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Patterns are the HR-error classification tables. The exact substrings the
// HR system emits change across its versions, so they live in an external
// YAML file instead of constants.
type Patterns struct {
	// Duplicate marks a delivery as already present on the HR side. Terminal,
	// counts as handled for resume purposes.
	Duplicate []string `yaml:"duplicate"`
	// Allowlist marks expected permanent business-data failures (unknown
	// employee, inactive employee). Logged and skipped without aborting.
	Allowlist []string `yaml:"allowlist"`
}

// DefaultPatterns matches the stock HR-system error messages.
func DefaultPatterns() Patterns {
	return Patterns{
		Duplicate: []string{
			"This employee already has a log with the same timestamp",
		},
		Allowlist: []string{
			"No Employee found for the given employee field value",
			"Employee is inactive",
		},
	}
}

// LoadPatterns reads the pattern tables from path. An absent file yields the
// defaults so a fresh install works without one.
func LoadPatterns(path string) (Patterns, error) {
	if path == "" {
		return DefaultPatterns(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPatterns(), nil
	} else if err != nil {
		return Patterns{}, err
	}

	var p Patterns
	if err = yaml.Unmarshal(data, &p); err != nil {
		return Patterns{}, err
	}

	return p, nil
}
