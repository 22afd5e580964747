// Package query is the query engine (component C7): semantic, full-
// text, and hybrid execution with filters, staleness annotation, and
// deterministic ranking.
package query

import (
	"fmt"
	"time"

	"github.com/localci/codeindexer/internal/cerrors"
)

// SearchMode selects which engine(s) answer a query.
type SearchMode string

const (
	ModeSemantic SearchMode = "semantic"
	ModeFTS      SearchMode = "fts"
	ModeHybrid   SearchMode = "hybrid"
)

// Accuracy maps onto the HNSW ef_search parameter.
type Accuracy string

const (
	AccuracyFast     Accuracy = "fast"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyHigh     Accuracy = "high"
)

// efSearchFor is the accuracy → ef_search mapping: a monotonic ladder
// trading recall for latency.
func efSearchFor(a Accuracy) int {
	switch a {
	case AccuracyFast:
		return 32
	case AccuracyHigh:
		return 256
	default:
		return 96
	}
}

// Sentinel errors.
var (
	ErrCollectionMissing = cerrors.New(cerrors.CodeQueryCollectionMissing, "collection does not exist", nil).
				WithSuggestion("run 'index' to create it")
	ErrModelMismatch = cerrors.New(cerrors.CodeQueryModelMismatch, "embedding model dimension does not match collection", nil).
				WithSuggestion("re-index with the configured model or restore the original model setting")
	ErrIndexUnavailable = cerrors.New(cerrors.CodeQueryIndexUnavailable, "full-text index not available", nil).
				WithSuggestion("build fts index")
	ErrConflictingFlags = cerrors.New(cerrors.CodeQueryConflictingFlags, "regex and fuzzy are mutually exclusive", nil)
)

// Options configures one query.
type Options struct {
	Mode     SearchMode
	Limit    int     // 1..100, default 10
	MinScore float64 // 0..1, semantic lower bound

	Language        string
	ExcludeLanguage string
	PathFilters     []string
	ExcludePaths    []string

	Accuracy Accuracy

	// FTS-only options.
	CaseSensitive bool
	Fuzzy         bool
	EditDistance  int // 0..3
	Regex         bool
	SnippetLines  int // 0..50

	// CheckStaleness compares each semantic result's indexed state
	// against the live file's mtime on disk.
	CheckStaleness bool

	// StalenessThreshold is the slack before a result counts as stale.
	StalenessThreshold time.Duration
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeSemantic
	}
	if o.Limit == 0 {
		o.Limit = 10
	}
	if o.Accuracy == "" {
		o.Accuracy = AccuracyBalanced
	}
	return o
}

// Validate rejects conflicting or out-of-range options before any
// engine work starts.
func (o Options) Validate() error {
	if o.Regex && o.Fuzzy {
		return ErrConflictingFlags
	}
	if o.Limit < 1 || o.Limit > 100 {
		return fmt.Errorf("limit must be in 1..100, got %d", o.Limit)
	}
	if o.MinScore < 0 || o.MinScore > 1 {
		return fmt.Errorf("min_score must be in 0..1, got %g", o.MinScore)
	}
	if o.EditDistance < 0 || o.EditDistance > 3 {
		return fmt.Errorf("edit_distance must be in 0..3, got %d", o.EditDistance)
	}
	if o.SnippetLines < 0 || o.SnippetLines > 50 {
		return fmt.Errorf("snippet_lines must be in 0..50, got %d", o.SnippetLines)
	}
	switch o.Mode {
	case ModeSemantic, ModeFTS, ModeHybrid:
	default:
		return fmt.Errorf("unknown search mode %q", o.Mode)
	}
	switch o.Accuracy {
	case AccuracyFast, AccuracyBalanced, AccuracyHigh:
	default:
		return fmt.Errorf("unknown accuracy %q", o.Accuracy)
	}
	return nil
}
