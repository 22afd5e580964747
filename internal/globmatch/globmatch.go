// Package globmatch matches slash-separated paths against
// path/filepath.Match-compatible glob patterns, with "**" extended to
// match across path segments the way gitignore-style tools do.
package globmatch

import (
	"path/filepath"
	"strings"
)

// Match reports whether path matches pattern. A "**" segment matches
// zero or more path segments; every other segment is matched with
// filepath.Match semantics (*, ?, [...]).
func Match(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	return matchParts(patternParts, pathParts)
}

// MatchAny reports whether path matches any of patterns.
func MatchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if Match(p, path) {
			return true
		}
	}
	return false
}

func matchParts(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if matchParts(pattern[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchParts(pattern, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchParts(pattern[1:], path[1:])
}
