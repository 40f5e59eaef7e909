// Package trigger decides which declarative triggers fire after a model has
// been executed.
package trigger

import (
	"strings"

	"github.com/rendis/pineapple/pkg/schema"
)

// Match reports whether a trigger field matches actual.
//
// The field is trimmed first. Empty matches anything, as does the wildcard
// token. A value wrapped in braces is a comma separated list whose elements
// are trimmed; an empty list matches nothing. Anything else must equal actual.
func Match(pattern, actual string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == schema.WildcardToken {
		return true
	}
	if strings.HasPrefix(pattern, "{") && strings.HasSuffix(pattern, "}") && len(pattern) >= 2 {
		inner := strings.TrimSpace(pattern[1 : len(pattern)-1])
		if inner == "" {
			return false
		}
		for _, elem := range strings.Split(inner, ",") {
			if strings.TrimSpace(elem) == actual {
				return true
			}
		}
		return false
	}
	return pattern == actual
}

// MatchPtr is Match for optional fields; nil behaves like an empty value.
func MatchPtr(pattern *string, actual string) bool {
	if pattern == nil {
		return true
	}
	return Match(*pattern, actual)
}

// AppliesTo reports whether a model restricted to targetOperation runs for
// operation. It follows Match, except that a wildcard list element matches
// any operation.
func AppliesTo(targetOperation, operation string) bool {
	if Match(targetOperation, operation) {
		return true
	}
	pattern := strings.TrimSpace(targetOperation)
	if !strings.HasPrefix(pattern, "{") || !strings.HasSuffix(pattern, "}") || len(pattern) < 2 {
		return false
	}
	for _, elem := range strings.Split(pattern[1:len(pattern)-1], ",") {
		if strings.TrimSpace(elem) == schema.WildcardToken {
			return true
		}
	}
	return false
}
