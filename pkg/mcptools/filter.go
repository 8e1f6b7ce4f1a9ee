package mcptools

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Filter is a declarative predicate over a tool's name and annotations.
//
// A zero Filter selects every tool. Each populated field narrows the
// selection; a tool must satisfy all of them. Exclusions are evaluated
// first and always win over inclusions.
type Filter struct {
	// Toolsets selects tools whose "toolsets" annotation intersects this
	// list. Tools without a toolsets annotation never match a non-empty
	// Toolsets filter: annotations are opt-in.
	Toolsets []string `yaml:"toolsets,omitempty"`

	// Annotations selects tools whose annotation values match per key.
	// Matching is scalar equality, scalar-in-list membership, or
	// list-list intersection depending on the shapes involved.
	Annotations map[string]interface{} `yaml:"annotations,omitempty"`

	// NamePatterns selects tools whose name matches at least one glob
	// pattern (path.Match syntax).
	NamePatterns []string `yaml:"names,omitempty"`

	// ExcludeToolsets rejects tools whose toolsets annotation intersects
	// this list, regardless of the inclusion rules.
	ExcludeToolsets []string `yaml:"excludeToolsets,omitempty"`

	// ExcludeNames rejects tools whose name matches any of these glob
	// patterns, regardless of the inclusion rules.
	ExcludeNames []string `yaml:"excludeNames,omitempty"`
}

// IsEmpty reports whether the filter has no predicates at all.
func (f Filter) IsEmpty() bool {
	return len(f.Toolsets) == 0 &&
		len(f.Annotations) == 0 &&
		len(f.NamePatterns) == 0 &&
		len(f.ExcludeToolsets) == 0 &&
		len(f.ExcludeNames) == 0
}

// Match evaluates the filter against a tool definition.
// The returned reason explains the decision in human-readable form and
// is surfaced by the filtering debug trace.
func (f Filter) Match(tool ToolDefinition) (bool, string) {
	if f.IsEmpty() {
		return true, "no filter configured"
	}

	for _, pattern := range f.ExcludeNames {
		if ok, _ := path.Match(pattern, tool.Name); ok {
			return false, fmt.Sprintf("name matches exclusion pattern %q", pattern)
		}
	}

	toolsets := tool.Toolsets()
	if len(f.ExcludeToolsets) > 0 {
		if hit := intersect(toolsets, f.ExcludeToolsets); hit != "" {
			return false, fmt.Sprintf("toolset %q is excluded", hit)
		}
	}

	if len(f.Toolsets) > 0 {
		if len(toolsets) == 0 {
			if _, present := tool.Annotations[AnnotationToolsets]; present {
				return false, "toolsets annotation has an unsupported shape"
			}
			return false, "tool has no toolsets annotation"
		}
		if hit := intersect(toolsets, f.Toolsets); hit == "" {
			return false, fmt.Sprintf("toolsets %v do not intersect filter %v", toolsets, f.Toolsets)
		}
	}

	for _, key := range sortedKeys(f.Annotations) {
		ok, reason := matchAnnotation(tool.Annotations[key], f.Annotations[key])
		if !ok {
			return false, fmt.Sprintf("annotation %q %s", key, reason)
		}
	}

	if len(f.NamePatterns) > 0 {
		matched := false
		for _, pattern := range f.NamePatterns {
			if ok, _ := path.Match(pattern, tool.Name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, fmt.Sprintf("name does not match any of %v", f.NamePatterns)
		}
	}

	return true, "matched filter"
}

// matchAnnotation compares a tool's annotation value against the wanted
// value. Supported shapes:
//
//	scalar vs scalar  -> equality
//	scalar vs list    -> membership (either side may be the list)
//	list vs list      -> non-empty intersection
//
// Anything else is rejected with a reason rather than a panic.
func matchAnnotation(have, want interface{}) (bool, string) {
	if have == nil {
		return false, "is not set on the tool"
	}

	haveList, haveIsList := asList(have)
	wantList, wantIsList := asList(want)

	switch {
	case !haveIsList && !wantIsList:
		if scalarEqual(have, want) {
			return true, ""
		}
		return false, fmt.Sprintf("value %v does not equal %v", have, want)
	case !haveIsList && wantIsList:
		for _, w := range wantList {
			if scalarEqual(have, w) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("value %v is not in %v", have, wantList)
	case haveIsList && !wantIsList:
		for _, h := range haveList {
			if scalarEqual(h, want) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("values %v do not contain %v", haveList, want)
	default:
		for _, h := range haveList {
			for _, w := range wantList {
				if scalarEqual(h, w) {
					return true, ""
				}
			}
		}
		return false, fmt.Sprintf("values %v do not intersect %v", haveList, wantList)
	}
}

// asList normalizes list-shaped values. Maps and other compound shapes
// are not lists and not scalars; they fail scalarEqual downstream.
func asList(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// scalarEqual compares two scalar annotation values. JSON numbers arrive
// as float64, so numeric comparison goes through a common representation.
func scalarEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// intersect returns the first element of a present in b, or "".
func intersect(a, b []string) string {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return x
			}
		}
	}
	return ""
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FilterResult records the outcome of applying a filter to a tool listing.
type FilterResult struct {
	// Selected holds the tools that passed the filter, in listing order.
	Selected []ToolDefinition

	// Rejected holds the tools that failed the filter, in listing order.
	Rejected []ToolDefinition

	// Reasons maps each tool name to the decision explanation.
	Reasons map[string]string
}

// ApplyFilter evaluates a filter over a tool listing.
// Tool definitions are never mutated; the result slices share the input's
// backing values.
func ApplyFilter(tools []ToolDefinition, filter Filter) FilterResult {
	result := FilterResult{
		Reasons: make(map[string]string, len(tools)),
	}

	for _, tool := range tools {
		ok, reason := filter.Match(tool)
		result.Reasons[tool.Name] = reason
		if ok {
			result.Selected = append(result.Selected, tool)
		} else {
			result.Rejected = append(result.Rejected, tool)
		}
	}

	return result
}

// Summary renders a per-tool decision trace for debug output.
func (r FilterResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "selected %d of %d tools\n", len(r.Selected), len(r.Selected)+len(r.Rejected))
	for _, tool := range r.Selected {
		fmt.Fprintf(&b, "  + %-40s %s\n", tool.Name, r.Reasons[tool.Name])
	}
	for _, tool := range r.Rejected {
		fmt.Fprintf(&b, "  - %-40s %s\n", tool.Name, r.Reasons[tool.Name])
	}
	return b.String()
}
