package chunk

import (
	"context"
	"regexp"
	"sort"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// identifierFallback pulls identifier-like tokens with a plain regex; used
// when tree-sitter has no grammar for the language, or parsing fails.
var identifierFallback = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

var stopIdentifiers = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {},
}

// grammars maps a language facet to its tree-sitter grammar. Only a
// handful are wired — everything else falls back to the regex scan.
var grammars = map[string]*sitter.Language{
	"go":         golang.GetLanguage(),
	"javascript": javascript.GetLanguage(),
	"typescript": typescript.GetLanguage(),
	"python":     python.GetLanguage(),
}

// IdentifierExtractor extracts identifier-like tokens from a chunk's text
// for the FTS `identifiers` field. Best-effort: it never blocks indexing
// on a parse failure.
type IdentifierExtractor struct {
	parser *sitter.Parser
}

// NewIdentifierExtractor creates an extractor with a reusable parser.
func NewIdentifierExtractor() *IdentifierExtractor {
	return &IdentifierExtractor{parser: sitter.NewParser()}
}

// Close releases the underlying parser.
func (e *IdentifierExtractor) Close() {
	// sitter.Parser has no explicit Close in this binding; nothing to
	// release beyond GC.
}

// Extract returns the de-duplicated, sorted set of identifiers found in
// text for the given language facet.
func (e *IdentifierExtractor) Extract(language, text string) []string {
	grammar, ok := grammars[language]
	if !ok {
		return e.fallback(text)
	}

	e.parser.SetLanguage(grammar)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tree, err := e.parser.ParseCtx(ctx, nil, []byte(text))
	if err != nil || tree == nil {
		return e.fallback(text)
	}

	seen := make(map[string]struct{})
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "identifier" || n.Type() == "field_identifier" || n.Type() == "type_identifier" {
			name := n.Content([]byte(text))
			if _, bad := stopIdentifiers[name]; !bad && name != "" {
				seen[name] = struct{}{}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())

	if len(seen) == 0 {
		return e.fallback(text)
	}
	return sortedKeys(seen)
}

func (e *IdentifierExtractor) fallback(text string) []string {
	matches := identifierFallback.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, bad := stopIdentifiers[m]; !bad {
			seen[m] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
