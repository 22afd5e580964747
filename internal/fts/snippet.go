package fts

import (
	"regexp"
	"strings"
)

// needle is what extractSnippet locates in the raw content when building
// a snippet: a regexp when one is in play, otherwise the query itself
// with the first matched term as fallback.
type needle struct {
	literal string
	re      *regexp.Regexp
	terms   []string
}

func snippetNeedle(queryStr string, re *regexp.Regexp, terms []string) needle {
	return needle{literal: queryStr, re: re, terms: terms}
}

// extractSnippet returns the lines around the first match of n in raw,
// with contextLines lines of context on each side. When nothing
// matches (tokenized queries often match analyzed terms the raw text
// spells differently), the head of the content is returned instead.
func extractSnippet(raw string, n needle, contextLines int) string {
	if raw == "" {
		return ""
	}
	if contextLines > 50 {
		contextLines = 50
	}

	lines := strings.Split(raw, "\n")
	matchLine := -1

	if n.re != nil {
		if loc := n.re.FindStringIndex(raw); loc != nil {
			matchLine = strings.Count(raw[:loc[0]], "\n")
		}
	}
	if matchLine == -1 && n.literal != "" {
		if i := strings.Index(strings.ToLower(raw), strings.ToLower(n.literal)); i >= 0 {
			matchLine = strings.Count(raw[:i], "\n")
		}
	}
	if matchLine == -1 {
		lowerRaw := strings.ToLower(raw)
		for _, term := range n.terms {
			if i := strings.Index(lowerRaw, strings.ToLower(term)); i >= 0 {
				matchLine = strings.Count(raw[:i], "\n")
				break
			}
		}
	}
	if matchLine == -1 {
		matchLine = 0
	}

	start := matchLine - contextLines
	if start < 0 {
		start = 0
	}
	end := matchLine + contextLines + 1
	if end > len(lines) {
		end = len(lines)
	}

	return strings.Join(lines[start:end], "\n")
}
