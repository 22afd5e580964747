// Package fts is the optional full-text companion index (component C4):
// a Bleve inverted index over code-aware tokenized content, raw content
// for exact matching and snippets, and extracted identifiers.
package fts

import "fmt"

// Document is one chunk's full-text view. Documents are keyed by
// (path, chunk index) and deleted by path, so re-indexing a file
// replaces its whole document set in one batch.
type Document struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	ContentRaw  string `json:"content_raw"`
	Identifiers string `json:"identifiers"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	Language    string `json:"language"`

	// ChunkIndex distinguishes documents of the same path.
	ChunkIndex int `json:"-"`
}

// docID builds the Bleve document id for one chunk of a path.
func docID(path string, chunkIndex int) string {
	return fmt.Sprintf("%s#%06d", path, chunkIndex)
}

// SearchOptions configures one full-text search.
type SearchOptions struct {
	Limit int

	// Exactly one of the default tokenized match, Fuzzy, or Regex modes
	// applies; Fuzzy and Regex are validated mutually exclusive by the
	// query engine before reaching this package.
	Fuzzy        bool
	EditDistance int // 0..3, used when Fuzzy
	Regex        bool

	CaseSensitive bool
	SnippetLines  int // context lines around the first match, 0..50

	Language        string
	ExcludeLanguage string
	PathFilters     []string
	ExcludePaths    []string
}

// Result is one full-text hit.
type Result struct {
	Path         string
	Score        float64
	Snippet      string
	LineStart    int
	LineEnd      int
	Language     string
	MatchedTerms []string
}

// Config tunes the index writer.
type Config struct {
	// BatchSize bounds how many documents accumulate before a batch
	// commit during bulk builds.
	BatchSize int
}

// DefaultBatchSize commits bulk builds every 500 documents, inside the
// 100-1000 band that keeps the writer heap bounded without thrashing
// small commits.
const DefaultBatchSize = 500

// WithDefaults fills zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}
