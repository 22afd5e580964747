package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localci/codeindexer/internal/branch"
	"github.com/localci/codeindexer/internal/cerrors"
	"github.com/localci/codeindexer/internal/chunk"
	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/embed"
	"github.com/localci/codeindexer/internal/fts"
	"github.com/localci/codeindexer/internal/scanner"
	"github.com/localci/codeindexer/internal/store"
)

// Options configures one indexing run.
type Options struct {
	// Branch scopes visibility records; empty means auto-detect from
	// git, degrading to the implicit single branch.
	Branch string

	// SkipHNSW defers overlay maintenance: the overlay is marked stale
	// and queries fall back to brute force until the next full run.
	SkipHNSW bool

	// FileWorkers sizes the per-file pipeline pool (T_file).
	// Precedence: this value > config parallel_requests > provider
	// default.
	FileWorkers int

	// HashWorkers sizes the hashing pool (T_hash). 0 uses the config.
	HashWorkers int

	Progress ProgressFunc
}

// Orchestrator drives the five-phase indexing pipeline over one
// collection.
type Orchestrator struct {
	root     string
	cfg      *config.Config
	col      *store.Collection
	fts      *fts.Index // nil when FTS is disabled
	embedder embed.Embedder
	filter   *scanner.Filter
	resolver *branch.Resolver
	chunker  *chunk.Chunker
	idents   *chunk.IdentifierExtractor
	langs    *chunk.LanguageRegistry
}

// New wires an orchestrator. ftsIdx may be nil when the companion
// index is disabled.
func New(root string, cfg *config.Config, col *store.Collection, ftsIdx *fts.Index, embedder embed.Embedder, filter *scanner.Filter) (*Orchestrator, error) {
	chunker, err := chunk.New(chunk.Options{
		MaxBytes:     cfg.Chunking.MaxBytes,
		OverlapBytes: cfg.Chunking.OverlapBytes,
		MaxFileSize:  cfg.Filters.MaxFileSize,
	})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		root:     root,
		cfg:      cfg,
		col:      col,
		fts:      ftsIdx,
		embedder: embedder,
		filter:   filter,
		resolver: branch.NewResolver(col),
		chunker:  chunker,
		idents:   chunk.NewIdentifierExtractor(),
		langs:    chunk.DefaultLanguageRegistry(),
	}, nil
}

// fileTask is one file that survived the hash phase.
type fileTask struct {
	info     *scanner.FileInfo
	fileHash string
}

// Index runs the full pipeline: enumerate, hash, chunk+embed, persist,
// finalize. Per-file failures are recorded in Stats and never abort
// the session; a session-level failure leaves previously committed
// state intact.
func (o *Orchestrator) Index(ctx context.Context, opts Options) (Stats, error) {
	branchName := opts.Branch
	if branchName == "" {
		branchName = branch.DetectBranch(o.root)
	}

	fileWorkers := opts.FileWorkers
	if fileWorkers <= 0 {
		fileWorkers = o.cfg.Embedding.ParallelRequests
	}
	hashWorkers := opts.HashWorkers
	if hashWorkers <= 0 {
		hashWorkers = o.cfg.Indexing.HashWorkers
	}

	tracker := newProgressTracker(opts.Progress)
	defer tracker.close()
	stats := newStatsCollector()

	tracker.setup("enumerating files")
	files, err := o.enumerate(ctx)
	if err != nil {
		return stats.snapshot(), err
	}
	stats.addCandidates(len(files))
	tracker.setTotal(len(files))

	if err := o.col.BeginIndexing(); err != nil {
		return stats.snapshot(), err
	}
	finalized := false
	defer func() {
		if !finalized {
			// Abort path: finish the session so the lock is released;
			// committed files stay, and the overlay is marked stale
			// rather than patched.
			_ = o.col.EndIndexing(true)
		}
	}()

	tasks, err := o.hashPhase(ctx, files, branchName, hashWorkers, tracker, stats)
	if err != nil {
		return stats.snapshot(), err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileWorkers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			// Cancellation is checked before each file; a file already
			// past this point runs to completion or rollback.
			if err := gctx.Err(); err != nil {
				return err
			}
			o.processFile(gctx, task, branchName, false, tracker, stats)
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return stats.snapshot(), err
	}

	tracker.setup("finalizing index")
	if err := o.col.EndIndexing(opts.SkipHNSW); err != nil {
		return stats.snapshot(), err
	}
	finalized = true

	final := stats.snapshot()
	slog.Info("indexing_complete",
		slog.Int("processed", final.Processed),
		slog.Int("skipped", final.Skipped),
		slog.Int("reused", final.Reused),
		slog.Int("failed", final.Failed),
		slog.Int("chunks", final.Chunks),
		slog.Int("embedding_calls", final.EmbeddingCalls))
	return final, nil
}

// enumerate collects the candidate file list (phase 1).
func (o *Orchestrator) enumerate(ctx context.Context) ([]*scanner.FileInfo, error) {
	results, err := scanner.New(o.filter).Scan(ctx)
	if err != nil {
		return nil, err
	}

	var files []*scanner.FileInfo
	for r := range results {
		if r.Error != nil {
			return nil, r.Error
		}
		files = append(files, r.File)
	}
	return files, nil
}

// hashPhase computes content hashes in the T_hash pool (phase 2),
// peeling off unchanged files (the resume path) and files whose
// content already has chunks under another branch (visibility reuse).
func (o *Orchestrator) hashPhase(ctx context.Context, files []*scanner.FileInfo, branchName string, workers int, tracker *progressTracker, stats *statsCollector) ([]fileTask, error) {
	tasks := make([]fileTask, 0, len(files))
	taskCh := make(chan fileTask, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, info := range files {
		info := info
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tracker.update(info.Path, StatusHashing, 0, info.Size)

			content, err := os.ReadFile(info.AbsPath)
			if err != nil {
				stats.failed(info.Path, "unreadable: "+err.Error())
				tracker.update(info.Path, StatusFailed, 0, info.Size)
				return nil
			}
			fileHash := chunk.FileHash(content)

			unchanged, err := o.col.HasFile(info.Path, fileHash)
			if err != nil {
				return err
			}
			if unchanged {
				// Content already indexed for this path; refresh branch
				// visibility and stop here — zero embedding calls.
				ids, err := o.col.ChunkIDsByPath(info.Path)
				if err == nil {
					_ = o.resolver.MarkVisible(ids, branchName)
				}
				stats.skipped("unchanged")
				tracker.update(info.Path, StatusSkipped, info.Size, info.Size)
				return nil
			}

			reused, _, err := o.resolver.Resolve(info.Path, branchName, fileHash)
			if err != nil {
				return err
			}
			if reused {
				stats.reused()
				tracker.update(info.Path, StatusDone, info.Size, info.Size)
				return nil
			}

			taskCh <- fileTask{info: info, fileHash: fileHash}
			return nil
		})
	}
	err := g.Wait()
	close(taskCh)
	for t := range taskCh {
		tasks = append(tasks, t)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return tasks, err
	}
	return tasks, ctx.Err()
}

// processFile chunks, embeds, and persists one file (phases 3-4). All
// chunks of the file ride one embedding batch; nothing is written
// until the whole batch succeeds, and a mid-write failure rolls back
// the chunks already written so no partial file persists.
func (o *Orchestrator) processFile(ctx context.Context, task fileTask, branchName string, watchMode bool, tracker *progressTracker, stats *statsCollector) {
	info := task.info
	tracker.update(info.Path, StatusEmbedding, 0, info.Size)

	content, err := os.ReadFile(info.AbsPath)
	if err != nil {
		stats.failed(info.Path, "unreadable: "+err.Error())
		tracker.update(info.Path, StatusFailed, 0, info.Size)
		return
	}

	res, err := o.chunker.ChunkBytes(info.Path, content)
	if err != nil {
		o.recordChunkError(info.Path, err, tracker, stats, info.Size)
		return
	}

	if err := ctx.Err(); err != nil {
		return // cancelled between chunk and embed: nothing written
	}

	texts := make([]string, len(res.Chunks))
	for i, c := range res.Chunks {
		texts[i] = c.Text
	}
	vectors, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		stats.failed(info.Path, "embedding: "+err.Error())
		tracker.update(info.Path, StatusFailed, 0, info.Size)
		return
	}
	if len(vectors) != len(res.Chunks) {
		stats.failed(info.Path, fmt.Sprintf("embedding returned %d vectors for %d chunks", len(vectors), len(res.Chunks)))
		tracker.update(info.Path, StatusFailed, 0, info.Size)
		return
	}
	dims := o.col.Dimensions()
	for _, v := range vectors {
		if len(v) != dims {
			stats.failed(info.Path, fmt.Sprintf("dimension mismatch: model produced %d, collection expects %d", len(v), dims))
			tracker.update(info.Path, StatusFailed, 0, info.Size)
			return
		}
	}

	if err := ctx.Err(); err != nil {
		return // cancelled between embed and persist: result discarded
	}

	tracker.update(info.Path, StatusPersisting, info.Size/2, info.Size)

	oldIDs, err := o.col.ChunkIDsByPath(info.Path)
	if err != nil {
		stats.failed(info.Path, "id lookup: "+err.Error())
		tracker.update(info.Path, StatusFailed, 0, info.Size)
		return
	}

	now := time.Now().UTC()
	written := make([]string, 0, len(res.Chunks))
	newIDs := make(map[string]struct{}, len(res.Chunks))
	for i, c := range res.Chunks {
		rec := store.Record{
			ChunkID:    c.ID,
			Vector:     vectors[i],
			Path:       info.Path,
			FileHash:   res.FileHash,
			ChunkIndex: c.ChunkIndex,
			ByteStart:  c.ByteStart,
			ByteEnd:    c.ByteEnd,
			LineStart:  c.LineStart,
			LineEnd:    c.LineEnd,
			Language:   info.Language,
			Branch:     branchName,
			AddedAt:    now,
			FileMTime:  info.ModTime.UTC(),
		}
		if err := o.col.Upsert(rec, watchMode); err != nil {
			// Roll back this file's writes so no partial set persists.
			_ = o.col.Delete(written)
			stats.failed(info.Path, "persist: "+err.Error())
			tracker.update(info.Path, StatusFailed, 0, info.Size)
			return
		}
		written = append(written, c.ID)
		newIDs[c.ID] = struct{}{}
	}

	// Chunks of the previous content that did not survive the update.
	var stale []string
	for _, id := range oldIDs {
		if _, ok := newIDs[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := o.col.Delete(stale); err != nil {
			slog.Warn("stale_chunk_delete_failed",
				slog.String("path", info.Path),
				slog.String("error", err.Error()))
		}
	}

	if err := o.resolver.MarkVisible(written, branchName); err != nil {
		slog.Warn("visibility_write_failed",
			slog.String("path", info.Path),
			slog.String("error", err.Error()))
	}

	if o.fts != nil {
		if err := o.updateFTS(ctx, info, res); err != nil {
			slog.Warn("fts_update_failed",
				slog.String("path", info.Path),
				slog.String("error", err.Error()))
		}
	}

	stats.processed(len(res.Chunks))
	tracker.update(info.Path, StatusDone, info.Size, info.Size)
}

// updateFTS mirrors one file's chunk set into the full-text index.
// Updates replace the path's whole document set, so re-indexing a
// changed file never leaves stale documents behind.
func (o *Orchestrator) updateFTS(ctx context.Context, info *scanner.FileInfo, res chunk.Result) error {
	docs := make([]fts.Document, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		docs = append(docs, fts.Document{
			Path:        info.Path,
			Content:     c.Text,
			ContentRaw:  c.Text,
			Identifiers: strings.Join(o.idents.Extract(info.Language, c.Text), " "),
			LineStart:   c.LineStart,
			LineEnd:     c.LineEnd,
			Language:    info.Language,
			ChunkIndex:  c.ChunkIndex,
		})
	}
	return o.fts.UpdatePath(ctx, info.Path, docs)
}

// recordChunkError buckets a chunker error as a skip (data errors) or
// a failure (everything else).
func (o *Orchestrator) recordChunkError(path string, err error, tracker *progressTracker, stats *statsCollector, size int64) {
	switch cerrors.Code(unwrapCodeError(err)) {
	case cerrors.CodeChunkBinary:
		stats.skipped("binary")
	case cerrors.CodeChunkTooLarge:
		stats.skipped("too-large")
	case cerrors.CodeChunkEmpty:
		stats.skipped("empty")
	default:
		stats.failed(path, err.Error())
		tracker.update(path, StatusFailed, 0, size)
		return
	}
	tracker.update(path, StatusSkipped, size, size)
}

// unwrapCodeError digs the innermost *cerrors.CodeError out of err.
func unwrapCodeError(err error) error {
	var ce *cerrors.CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return err
}

// RemoveFile deletes every record of one path from the store, the
// visibility table, and the FTS index. Used by watch mode and prune.
func (o *Orchestrator) RemoveFile(ctx context.Context, relPath string) error {
	ids, err := o.col.ChunkIDsByPath(relPath)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := o.col.Delete(ids); err != nil {
			return err
		}
	}
	if o.fts != nil {
		if err := o.fts.DeleteByPath(ctx, relPath); err != nil {
			return err
		}
	}
	return nil
}

// statFile resolves a relative path to its scanner view, for watch
// events arriving outside a scan.
func (o *Orchestrator) statFile(relPath string) (*scanner.FileInfo, error) {
	absPath := filepath.Join(o.root, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	return &scanner.FileInfo{
		Path:     relPath,
		AbsPath:  absPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: o.langs.Detect(relPath),
	}, nil
}
