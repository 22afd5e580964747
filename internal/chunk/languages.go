package chunk

import (
	"path/filepath"
	"strings"
)

// LanguageRegistry maps file extensions to a language facet string, used
// to tag chunks and to drive the FTS language facet and query filters.
// It intentionally does not parse — chunking itself is fixed-size byte
// spans; language here is metadata only.
type LanguageRegistry struct {
	extToLang map[string]string
}

// DefaultLanguageRegistry returns a registry covering the languages the
// rest of the pipeline treats specially (identifier extraction, default
// exclude lists).
func DefaultLanguageRegistry() *LanguageRegistry {
	return &LanguageRegistry{
		extToLang: map[string]string{
			".go":         "go",
			".js":         "javascript",
			".jsx":        "javascript",
			".mjs":        "javascript",
			".cjs":        "javascript",
			".ts":         "typescript",
			".tsx":        "typescript",
			".py":         "python",
			".pyw":        "python",
			".rb":         "ruby",
			".rs":         "rust",
			".java":       "java",
			".kt":         "kotlin",
			".c":          "c",
			".h":          "c",
			".cc":         "cpp",
			".cpp":        "cpp",
			".hpp":        "cpp",
			".cs":         "csharp",
			".php":        "php",
			".swift":      "swift",
			".sh":         "shell",
			".bash":       "shell",
			".sql":        "sql",
			".html":       "html",
			".htm":        "html",
			".css":        "css",
			".scss":       "scss",
			".json":       "json",
			".yaml":       "yaml",
			".yml":        "yaml",
			".toml":       "toml",
			".md":         "markdown",
			".mdx":        "markdown",
			".rst":        "rst",
			".txt":        "text",
			".proto":      "protobuf",
			".graphql":    "graphql",
		},
	}
}

// Detect returns the language facet for path, or "" if unknown.
func (r *LanguageRegistry) Detect(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return r.extToLang[ext]
}
