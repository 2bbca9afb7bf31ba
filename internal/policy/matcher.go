package policy

import "strings"

const (
	// Wildcard matches any value of a single segment; alone it matches everything.
	Wildcard = "*"
	// SegmentSeparator delimits pattern namespaces, e.g. "delivery_challan:read".
	SegmentSeparator = ":"
)

// Matches reports whether the statement applies to the action and resource.
// Conditions are stored but not evaluated.
func Matches(stmt Statement, action, resource string) bool {
	return MatchAny(stmt.Actions, action) && MatchAny(stmt.Resources, resource)
}

// MatchAny reports whether any pattern covers value.
func MatchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if MatchPattern(p, value) {
			return true
		}
	}
	return false
}

// MatchPattern compares pattern and value segment by segment. A "*" segment
// matches any single segment; a trailing "*" also absorbs any deeper segments,
// so "delivery_challan:*" covers "delivery_challan:file:7".
func MatchPattern(pattern, value string) bool {
	if pattern == Wildcard {
		return true
	}
	if pattern == value {
		return true
	}
	if !strings.Contains(pattern, Wildcard) {
		return false
	}
	pSegs := strings.Split(pattern, SegmentSeparator)
	vSegs := strings.Split(value, SegmentSeparator)
	for i, seg := range pSegs {
		last := i == len(pSegs)-1
		if i >= len(vSegs) {
			return false
		}
		if seg == Wildcard {
			if last {
				return true
			}
			continue
		}
		if seg != vSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(vSegs)
}
