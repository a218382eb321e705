// Package config handles YAML config file loading for sluice commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
//   - ${VAR} expands to the value, or empty string if unset
//   - ${VAR:-default} expands to the value, or "default" if unset or empty
//   - ${VAR:?message} expands to the value, or fails with message
//
// $${ escapes a literal ${.
var envVarPattern = regexp.MustCompile(`\$\$\{|\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv expands variables from the process environment. Required
// variables that are missing expand to empty string; use ExpandEnvStrict
// to surface them.
func ExpandEnv(input string) string {
	out, _ := expand(input, os.LookupEnv)
	return out
}

// ExpandEnvStrict is ExpandEnv that reports every missing ${VAR:?message}.
func ExpandEnvStrict(input string) (string, error) {
	return expand(input, os.LookupEnv)
}

func expand(input string, lookup func(string) (string, bool)) (string, error) {
	var errs []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		if match == "$${" {
			return "${"
		}
		groups := envVarPattern.FindStringSubmatch(match)
		name, op, arg := groups[1], groups[2], groups[3]

		if value, ok := lookup(name); ok && value != "" {
			return value
		}
		switch op {
		case "-":
			return arg
		case "?":
			msg := strings.TrimSpace(arg)
			if msg == "" {
				msg = "required"
			}
			errs = append(errs, fmt.Errorf("%s: %s", name, msg))
		}
		// Unset without default: empty string
		return ""
	})
	return out, errors.Join(errs...)
}
