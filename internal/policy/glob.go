package policy

import "strings"

// GlobMatch reports whether path (a canonical, slash-separated absolute
// path) matches pattern. Patterns are matched segment-by-segment:
//   - "**" matches any number of segments, including zero.
//   - "*"  matches exactly one whole segment.
//   - "?"  matches a single character within a segment.
//
// This is hand-rolled rather than taken from a library: no example repo
// in the pack ships a "**"-aware glob matcher, and the segment semantics
// here (glob operates on whole path segments, not byte-for-byte like
// filepath.Match) are specific enough to this policy's needs that no
// stdlib function expresses them directly either.
func GlobMatch(path, pattern string) bool {
	pathSegs := splitSegments(path)
	patSegs := splitSegments(pattern)
	return matchSegments(pathSegs, patSegs)
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	head := pattern[0]

	if head == "**" {
		// "**" may consume zero or more path segments.
		for i := 0; i <= len(path); i++ {
			if matchSegments(path[i:], pattern[1:]) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 {
		return false
	}

	if !matchSegment(path[0], head) {
		return false
	}

	return matchSegments(path[1:], pattern[1:])
}

// matchSegment matches a single path segment against a single pattern
// segment using "*" (any run of characters) and "?" (any single
// character) as the only wildcards.
func matchSegment(seg, pattern string) bool {
	return matchSegmentRunes([]rune(seg), []rune(pattern))
}

func matchSegmentRunes(seg, pattern []rune) bool {
	if len(pattern) == 0 {
		return len(seg) == 0
	}

	switch pattern[0] {
	case '*':
		for i := 0; i <= len(seg); i++ {
			if matchSegmentRunes(seg[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(seg) == 0 {
			return false
		}
		return matchSegmentRunes(seg[1:], pattern[1:])
	default:
		if len(seg) == 0 || seg[0] != pattern[0] {
			return false
		}
		return matchSegmentRunes(seg[1:], pattern[1:])
	}
}
