package fts

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches alphanumeric sequences, keeping underscores for the
// initial split so snake_case identifiers arrive whole.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// DefaultCodeStopWords are keywords so common in code that indexing them
// only inflates the posting lists without improving ranking.
var DefaultCodeStopWords = []string{
	"the", "and", "for", "not", "with", "this", "that", "from",
	"func", "var", "const", "type", "return", "import", "package",
	"def", "class", "self", "pub", "let", "fn", "void", "int",
	"string", "bool", "true", "false", "nil", "null", "none",
	"if", "else", "end",
}

// TokenizeCode splits text with code-aware rules: camelCase, PascalCase
// and snake_case identifiers are decomposed, tokens shorter than two
// characters dropped, everything lowercased.
func TokenizeCode(text string) []string {
	var tokens []string

	words := tokenRegex.FindAllString(text, -1)
	for _, word := range words {
		for _, t := range SplitCodeToken(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// SplitCodeToken splits snake_case first, then camelCase within each part.
func SplitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}
	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronym runs together:
//
//	"getUserById"      -> ["get", "User", "By", "Id"]
//	"HTTPHandler"      -> ["HTTP", "Handler"]
//	"parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// buildStopWordMap converts a stop word list to a lookup set.
func buildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
