package utils

import "strings"

// MatchRoute checks a "METHOD /path" value against a pattern of the same
// shape. Patterns may use '*' (any sequence within a segment, or everything
// when trailing) and ':name' parameters (one path segment). A pattern without
// a method part matches the path alone.
func MatchRoute(value, pattern string) bool {
	valParts := strings.SplitN(value, " ", 2)
	patParts := strings.SplitN(pattern, " ", 2)

	if len(patParts) == 2 {
		if len(valParts) != 2 {
			return false
		}
		if patParts[0] != "*" && !strings.EqualFold(valParts[0], patParts[0]) {
			return false
		}
		return matchPath(valParts[1], patParts[1])
	}
	if len(valParts) == 2 {
		return matchPath(valParts[1], pattern)
	}
	return matchPath(value, pattern)
}

// HasSegment reports whether the path contains the given segment exactly.
func HasSegment(path, segment string) bool {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == segment {
			return true
		}
	}
	return false
}

// LastSegment returns the final path segment, or "" for an empty path.
func LastSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func matchPath(value, pattern string) bool {
	// Trailing "/*" matches the whole subtree.
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "/*"))
	}
	vi, pi := 0, 0
	for pi < len(pattern) {
		switch pattern[pi] {
		case '*':
			if pi == len(pattern)-1 {
				return true
			}
			for vi < len(value) && value[vi] != '/' {
				vi++
			}
			pi++
		case ':':
			for pi < len(pattern) && pattern[pi] != '/' {
				pi++
			}
			for vi < len(value) && value[vi] != '/' {
				vi++
			}
		default:
			if vi < len(value) && pattern[pi] == value[vi] {
				vi++
				pi++
			} else {
				return false
			}
		}
	}
	return vi == len(value) && pi == len(pattern)
}
