package expression

import "strings"

// helperFunctions are merged into every evaluation environment.
var helperFunctions = map[string]interface{}{
	"has":         hasFunc,
	"includes":    includesFunc,
	"length":      lengthFunc,
	"containsAny": containsAnyFunc,
}

// hasFunc reports whether a map contains a key.
//
//	has(steps, "deep_analysis")
func hasFunc(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

// includesFunc reports whether a list or string contains a value.
//
//	includes(steps.triage.tags, "urgent")
func includesFunc(container interface{}, value interface{}) bool {
	switch c := container.(type) {
	case string:
		s, ok := value.(string)
		return ok && strings.Contains(c, s)
	case []interface{}:
		for _, item := range c {
			if item == value {
				return true
			}
		}
	case []string:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, item := range c {
			if item == s {
				return true
			}
		}
	}
	return false
}

// lengthFunc returns the length of a string, list, or map.
func lengthFunc(v interface{}) int {
	switch c := v.(type) {
	case string:
		return len(c)
	case []interface{}:
		return len(c)
	case []string:
		return len(c)
	case map[string]interface{}:
		return len(c)
	default:
		return 0
	}
}

// containsAnyFunc reports whether the text contains any of the given
// phrases, case-insensitively. Health-audit conditions use this to scan
// a status report for concern keywords.
//
//	containsAny(steps.collect_status.response, ["critical", "degradation"])
func containsAnyFunc(text interface{}, phrases interface{}) bool {
	s, ok := text.(string)
	if !ok {
		return false
	}
	lower := strings.ToLower(s)

	check := func(p string) bool {
		return strings.Contains(lower, strings.ToLower(p))
	}

	switch list := phrases.(type) {
	case []string:
		for _, p := range list {
			if check(p) {
				return true
			}
		}
	case []interface{}:
		for _, item := range list {
			if p, ok := item.(string); ok && check(p) {
				return true
			}
		}
	case string:
		return check(list)
	}
	return false
}
