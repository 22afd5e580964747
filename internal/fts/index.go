package fts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	bsearch "github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/localci/codeindexer/internal/globmatch"
)

// Index wraps a Bleve index over chunk documents. The writer is
// exclusive; Bleve's scorch backend hot-swaps readers on commit so
// searches never block on an in-flight batch.
type Index struct {
	mu     sync.Mutex // serializes writers
	index  bleve.Index
	path   string
	config Config
	closed bool
}

// validateIntegrity checks the index directory before opening. A
// missing or unparseable index_meta.json means an interrupted build;
// the only recovery is clearing the directory and re-indexing.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// Open opens or creates the index at path. An empty path creates an
// in-memory index for tests. A corrupt on-disk index is cleared and
// recreated empty; the caller must re-index to repopulate it.
func Open(path string, config Config) (*Index, error) {
	config = config.WithDefaults()

	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("fts_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("fts index corrupt at %s and cannot remove: %w (original: %v)", path, removeErr, validErr)
			}
			slog.Info("fts_index_cleared", slog.String("path", path))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("fts_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("fts index corrupt, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open fts index: %w", err)
	}

	return &Index{index: idx, path: path, config: config}, nil
}

// buildIndexMapping assembles the document schema: path and language as
// keyword fields, content under the code analyzer, content_raw stored
// but unindexed (snippets and exact verification), identifiers under
// the simple analyzer, line positions stored numerics.
func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = CodeAnalyzerName
	contentField.Store = false
	contentField.IncludeTermVectors = true

	rawField := bleve.NewTextFieldMapping()
	rawField.Index = false
	rawField.Store = true
	rawField.IncludeInAll = false

	identField := bleve.NewTextFieldMapping()
	identField.Analyzer = simple.Name
	identField.Store = false

	langField := bleve.NewTextFieldMapping()
	langField.Analyzer = keyword.Name
	langField.Store = true

	lineField := bleve.NewNumericFieldMapping()
	lineField.Store = true
	lineField.Index = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("path", pathField)
	doc.AddFieldMappingsAt("content", contentField)
	doc.AddFieldMappingsAt("content_raw", rawField)
	doc.AddFieldMappingsAt("identifiers", identField)
	doc.AddFieldMappingsAt("language", langField)
	doc.AddFieldMappingsAt("line_start", lineField)
	doc.AddFieldMappingsAt("line_end", lineField)

	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = CodeAnalyzerName

	return indexMapping, nil
}

// IndexBatch adds documents, committing in config.BatchSize groups so
// the writer heap stays bounded during bulk builds.
func (x *Index) IndexBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("fts index is closed")
	}

	batch := x.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(docID(doc.Path, doc.ChunkIndex), doc); err != nil {
			return fmt.Errorf("index document %s: %w", doc.Path, err)
		}
		if batch.Size() >= x.config.BatchSize {
			if err := x.index.Batch(batch); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
			batch = x.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := x.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	return nil
}

// UpdatePath is the real-time maintenance path: delete every document
// of path, add the replacement set, one commit. Used by watch mode so
// a change is searchable after a single small batch.
func (x *Index) UpdatePath(ctx context.Context, path string, docs []Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("fts index is closed")
	}

	ids, err := x.docIDsForPath(ctx, path)
	if err != nil {
		return err
	}

	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	for _, doc := range docs {
		if err := batch.Index(docID(doc.Path, doc.ChunkIndex), doc); err != nil {
			return fmt.Errorf("index document %s: %w", doc.Path, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("commit update for %s: %w", path, err)
	}
	return nil
}

// DeleteByPath removes every document of path.
func (x *Index) DeleteByPath(ctx context.Context, path string) error {
	return x.UpdatePath(ctx, path, nil)
}

// docIDsForPath finds the document ids currently indexed for path.
func (x *Index) docIDsForPath(ctx context.Context, path string) ([]string, error) {
	tq := bleve.NewTermQuery(path)
	tq.SetField("path")

	req := bleve.NewSearchRequest(tq)
	req.Size = 10000
	req.Fields = []string{}

	result, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lookup documents for %s: %w", path, err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Search runs one full-text query. Mode selection: Regex compiles and
// matches tokens with a term regexp; Fuzzy matches with bounded edit
// distance; otherwise a tokenized match query over content. Language
// filtering happens in the query; path globs, case sensitivity and
// regex verification are applied post-retrieval against stored fields.
func (x *Index) Search(ctx context.Context, queryStr string, opts SearchOptions) ([]Result, error) {
	if strings.TrimSpace(queryStr) == "" {
		return []Result{}, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	var re *regexp.Regexp
	if opts.Regex {
		pattern := queryStr
		if !opts.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", queryStr, err)
		}
	}

	req := bleve.NewSearchRequest(x.buildQuery(queryStr, opts))
	// Over-fetch when post-filters can drop hits, then trim to Limit.
	req.Size = opts.Limit
	if len(opts.PathFilters) > 0 || len(opts.ExcludePaths) > 0 || opts.CaseSensitive || opts.Regex {
		req.Size = opts.Limit * 4
	}
	req.Fields = []string{"path", "content_raw", "language", "line_start", "line_end"}
	req.IncludeLocations = true

	result, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}

	results := make([]Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		r := hitToResult(hit)

		if len(opts.PathFilters) > 0 && !globmatch.MatchAny(opts.PathFilters, r.Path) {
			continue
		}
		if len(opts.ExcludePaths) > 0 && globmatch.MatchAny(opts.ExcludePaths, r.Path) {
			continue
		}

		raw, _ := hit.Fields["content_raw"].(string)
		if opts.Regex {
			// Token-level regexp candidates still need verifying against
			// the raw content, where the pattern can span token breaks.
			if re != nil && !re.MatchString(raw) {
				continue
			}
		} else if opts.CaseSensitive && !opts.Fuzzy {
			if !strings.Contains(raw, queryStr) {
				continue
			}
		}

		if opts.SnippetLines > 0 {
			r.Snippet = extractSnippet(raw, snippetNeedle(queryStr, re, r.MatchedTerms), opts.SnippetLines)
		}

		results = append(results, r)
		if len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// buildQuery assembles the Bleve query for one search.
func (x *Index) buildQuery(queryStr string, opts SearchOptions) query.Query {
	var base query.Query
	switch {
	case opts.Regex:
		rq := bleve.NewRegexpQuery(strings.ToLower(queryStr))
		rq.SetField("content")
		base = rq
	case opts.Fuzzy:
		fq := bleve.NewFuzzyQuery(strings.ToLower(queryStr))
		fq.SetField("content")
		fq.SetFuzziness(opts.EditDistance)
		base = fq
	default:
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField("content")

		iq := bleve.NewMatchQuery(queryStr)
		iq.SetField("identifiers")

		base = bleve.NewDisjunctionQuery(mq, iq)
	}

	boolean := bleve.NewBooleanQuery()
	boolean.AddMust(base)
	if opts.Language != "" {
		lq := bleve.NewTermQuery(opts.Language)
		lq.SetField("language")
		boolean.AddMust(lq)
	}
	if opts.ExcludeLanguage != "" {
		xq := bleve.NewTermQuery(opts.ExcludeLanguage)
		xq.SetField("language")
		boolean.AddMustNot(xq)
	}
	return boolean
}

func hitToResult(hit *bsearch.DocumentMatch) Result {
	r := Result{Score: hit.Score}
	if p, ok := hit.Fields["path"].(string); ok {
		r.Path = p
	}
	if l, ok := hit.Fields["language"].(string); ok {
		r.Language = l
	}
	if v, ok := hit.Fields["line_start"].(float64); ok {
		r.LineStart = int(v)
	}
	if v, ok := hit.Fields["line_end"].(float64); ok {
		r.LineEnd = int(v)
	}
	r.MatchedTerms = extractMatchedTerms(hit)
	return r
}

// extractMatchedTerms pulls the matched content terms from a hit.
func extractMatchedTerms(hit *bsearch.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" || field == "identifiers" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// DocCount reports the number of indexed documents.
func (x *Index) DocCount() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the underlying Bleve index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}
