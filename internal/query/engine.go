package query

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localci/codeindexer/internal/embed"
	"github.com/localci/codeindexer/internal/fts"
	"github.com/localci/codeindexer/internal/store"
)

// SemanticResult is one ranked semantic hit.
type SemanticResult struct {
	ChunkID    string     `json:"chunk_id"`
	Path       string     `json:"path"`
	ChunkIndex int        `json:"chunk_index"`
	Score      float32    `json:"score"`
	LineStart  int        `json:"line_start"`
	LineEnd    int        `json:"line_end"`
	Language   string     `json:"language"`
	IndexedAt  time.Time  `json:"indexed_at"`
	Staleness  *Staleness `json:"staleness,omitempty"`
}

// Metadata reports per-engine availability for hybrid responses. One
// engine failing degrades the response instead of aborting it.
type Metadata struct {
	SemanticAvailable bool   `json:"semantic_available"`
	SemanticError     string `json:"semantic_error,omitempty"`
	FTSAvailable      bool   `json:"fts_available"`
	FTSError          string `json:"fts_error,omitempty"`
	Hint              string `json:"hint,omitempty"`
}

// Results is a query response. Hybrid fills both lists; single-engine
// modes fill one.
type Results struct {
	Semantic []SemanticResult `json:"semantic_results,omitempty"`
	FTS      []fts.Result     `json:"fts_results,omitempty"`
	Metadata Metadata         `json:"metadata"`
}

// Engine executes queries against one collection and its optional
// full-text companion.
type Engine struct {
	root     string
	col      *store.Collection
	fts      *fts.Index // nil when absent
	embedder embed.Embedder
}

// New wires an engine. ftsIdx may be nil.
func New(root string, col *store.Collection, ftsIdx *fts.Index, embedder embed.Embedder) (*Engine, error) {
	if col == nil {
		return nil, ErrCollectionMissing
	}
	return &Engine{root: root, col: col, fts: ftsIdx, embedder: embedder}, nil
}

// Query validates options and dispatches to the selected engine(s).
func (e *Engine) Query(ctx context.Context, text string, opts Options) (Results, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return Results{}, err
	}

	switch opts.Mode {
	case ModeSemantic:
		sem, err := e.semantic(ctx, text, opts)
		if err != nil {
			return Results{}, err
		}
		return Results{
			Semantic: sem,
			Metadata: Metadata{SemanticAvailable: true, FTSAvailable: e.fts != nil},
		}, nil

	case ModeFTS:
		if e.fts == nil {
			return Results{}, ErrIndexUnavailable
		}
		hits, err := e.fullText(ctx, text, opts)
		if err != nil {
			return Results{}, err
		}
		return Results{
			FTS:      hits,
			Metadata: Metadata{SemanticAvailable: true, FTSAvailable: true},
		}, nil

	default:
		return e.hybrid(ctx, text, opts), nil
	}
}

// hybrid launches both engines concurrently; either failing leaves the
// other's results intact and records the error in metadata.
func (e *Engine) hybrid(ctx context.Context, text string, opts Options) Results {
	res := Results{Metadata: Metadata{}}

	var sem []SemanticResult
	var hits []fts.Result
	var semErr, ftsErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sem, semErr = e.semantic(gctx, text, opts)
		return nil
	})
	g.Go(func() error {
		if e.fts == nil {
			ftsErr = ErrIndexUnavailable
			return nil
		}
		hits, ftsErr = e.fullText(gctx, text, opts)
		return nil
	})
	_ = g.Wait()

	if semErr != nil {
		res.Metadata.SemanticError = semErr.Error()
	} else {
		res.Metadata.SemanticAvailable = true
		res.Semantic = sem
	}
	if ftsErr != nil {
		res.Metadata.FTSError = ftsErr.Error()
		if e.fts == nil {
			res.Metadata.Hint = "build fts index"
		}
	} else {
		res.Metadata.FTSAvailable = true
		res.FTS = hits
	}
	return res
}

// semantic embeds the query once and searches the vector store.
func (e *Engine) semantic(ctx context.Context, text string, opts Options) ([]SemanticResult, error) {
	if dims := e.embedder.Dimensions(); dims != 0 && dims != e.col.Dimensions() {
		return nil, ErrModelMismatch
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// Over-fetch: post-filters (language, min_score) can discard hits
	// the store-level path globs cannot.
	k := opts.Limit
	if opts.Language != "" || opts.ExcludeLanguage != "" || opts.MinScore > 0 {
		k *= 4
	}

	raw, err := e.col.Search(vec, store.SearchOptions{
		K:        k,
		EfSearch: efSearchFor(opts.Accuracy),
		Filter: store.SearchFilter{
			Must:    opts.PathFilters,
			MustNot: opts.ExcludePaths,
		},
	})
	if err != nil {
		return nil, err
	}

	results := make([]SemanticResult, 0, len(raw))
	for _, r := range raw {
		if float64(r.Score) < opts.MinScore {
			continue
		}
		if opts.Language != "" && r.Record.Language != opts.Language {
			continue
		}
		if opts.ExcludeLanguage != "" && r.Record.Language == opts.ExcludeLanguage {
			continue
		}
		sr := SemanticResult{
			ChunkID:    r.ChunkID,
			Path:       r.Record.Path,
			ChunkIndex: r.Record.ChunkIndex,
			Score:      r.Score,
			LineStart:  r.Record.LineStart,
			LineEnd:    r.Record.LineEnd,
			Language:   r.Record.Language,
			IndexedAt:  r.Record.AddedAt,
		}
		if opts.CheckStaleness {
			sr.Staleness = e.stalenessFor(r.Record, opts.StalenessThreshold)
		}
		results = append(results, sr)
	}

	// Deterministic ranking: score desc, then path asc, then chunk
	// index asc, so equal-scored hits never reorder across runs.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Path != results[j].Path {
			return results[i].Path < results[j].Path
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (e *Engine) stalenessFor(rec store.Record, threshold time.Duration) *Staleness {
	info, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(rec.Path)))
	if err != nil {
		// File gone: maximally stale, measured to now.
		s := annotateStaleness(rec.AddedAt, time.Now().UTC(), threshold)
		s.Stale = true
		return &s
	}
	s := annotateStaleness(rec.AddedAt, info.ModTime(), threshold)
	return &s
}

// fullText delegates to the FTS index with the option subset it
// understands.
func (e *Engine) fullText(ctx context.Context, text string, opts Options) ([]fts.Result, error) {
	return e.fts.Search(ctx, text, fts.SearchOptions{
		Limit:           opts.Limit,
		Fuzzy:           opts.Fuzzy,
		EditDistance:    opts.EditDistance,
		Regex:           opts.Regex,
		CaseSensitive:   opts.CaseSensitive,
		SnippetLines:    opts.SnippetLines,
		Language:        opts.Language,
		ExcludeLanguage: opts.ExcludeLanguage,
		PathFilters:     opts.PathFilters,
		ExcludePaths:    opts.ExcludePaths,
	})
}
