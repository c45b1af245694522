// Package interpolation expands ${VAR} and ${VAR:default} references in configuration values.
package interpolation

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrUndefinedVar is returned for a ${VAR} reference with no default whose variable is unset.
var ErrUndefinedVar = errors.New("environment variable not defined")

// submatches: full, name, colon, default
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:)?([^}]*)\}`)

// LookupFunc resolves a variable name.
type LookupFunc func(name string) (string, bool)

// ExpandEnvVars replaces every ${VAR} or ${VAR:default} in input using the process
// environment. A set variable wins over its default, including when it is set to the empty
// string; ${VAR:} defaults to empty. Unresolved references are left in place and reported
// together.
func ExpandEnvVars(input string) (string, error) {
	return Expand(input, os.LookupEnv)
}

// Expand is ExpandEnvVars with a caller supplied lookup.
func Expand(input string, lookup LookupFunc) (string, error) {
	if input == "" {
		return "", nil
	}

	var missing []error
	out := envRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envRefPattern.FindStringSubmatch(match)
		if value, ok := lookup(sub[1]); ok {
			return value
		}
		if sub[2] == ":" {
			return sub[3]
		}
		missing = append(missing, fmt.Errorf("%w: %s", ErrUndefinedVar, sub[1]))
		return match
	})

	return out, errors.Join(missing...)
}
