// Package config loads tessera.yaml, the defaults file shared by every
// tessera command.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME}, ${NAME:-fallback} and ${NAME:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in input:
//
//	${NAME}            value of NAME, empty when unset
//	${NAME:-fallback}  fallback when NAME is unset or empty
//	${NAME:?message}   error naming NAME when it is unset or empty
//
// Every missing required variable is reported, not only the first.
// References inside YAML comments are left alone.
func ExpandEnv(input string) (string, error) {
	var missing []error
	lines := strings.SplitAfter(input, "\n")
	for i, line := range lines {
		body, comment := splitComment(line)
		lines[i] = envRef.ReplaceAllStringFunc(body, func(ref string) string {
			m := envRef.FindStringSubmatch(ref)
			name, op, arg := m[1], m[2], m[3]
			if v := os.Getenv(name); v != "" {
				return v
			}
			switch op {
			case ":-":
				return arg
			case ":?":
				if arg == "" {
					arg = "required"
				}
				missing = append(missing, fmt.Errorf("line %d: ${%s}: %s", i+1, name, arg))
			}
			return ""
		}) + comment
	}
	return strings.Join(lines, ""), errors.Join(missing...)
}

// splitComment separates a trailing YAML comment from line. A # only
// starts a comment at the beginning of the line or after whitespace.
func splitComment(line string) (body, comment string) {
	for i := 0; i < len(line); i++ {
		if line[i] == '#' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i], line[i:]
		}
	}
	return line, ""
}
