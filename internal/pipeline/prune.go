package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/localci/codeindexer/internal/scanner"
)

// PruneOptions configures a prune run.
type PruneOptions struct {
	// DryRun reports what would be removed without deleting anything.
	DryRun bool

	// BatchSize bounds how many chunk deletions ride one store call.
	BatchSize int

	Progress ProgressFunc
}

// DefaultPruneBatchSize matches the store's own scroll page default.
const DefaultPruneBatchSize = 1000

// vectorFileOverhead is the fixed part of one vector file: magic,
// version, dimension, and CRC. Used for the byte-savings estimate.
const vectorFileOverhead = 4 + 2 + 4 + 4

// payloadEstimate approximates one payload JSON file on disk.
const payloadEstimate = 400

// Prune enumerates indexed paths, re-evaluates the current filter
// predicate, and removes every record whose path no longer passes —
// bucketed by the reason that disqualified it. Cancellation between
// batches leaves the store consistent: fully deleted batches stay
// deleted, everything else remains searchable.
func (o *Orchestrator) Prune(ctx context.Context, opts PruneOptions) (PruneReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultPruneBatchSize
	}
	tracker := newProgressTracker(opts.Progress)
	defer tracker.close()

	report := PruneReport{
		DryRun:  opts.DryRun,
		Reasons: make(map[scanner.Reason]int),
	}

	tracker.setup("scanning indexed paths")
	entries, err := o.col.ListPaths()
	if err != nil {
		return report, err
	}
	report.ScannedPaths = len(entries)

	perChunkBytes := int64(vectorFileOverhead + 4*o.col.Dimensions() + payloadEstimate)

	type removal struct {
		path   string
		reason scanner.Reason
		chunks int
	}
	var removals []removal
	for _, e := range entries {
		reason := o.filter.Evaluate(e.Path, -1)
		if reason == scanner.ReasonOK {
			continue
		}
		report.Reasons[reason]++
		report.RemovedPaths++
		report.RemovedChunks += e.ChunkCount
		report.BytesSaved += int64(e.ChunkCount) * perChunkBytes
		removals = append(removals, removal{path: e.Path, reason: reason, chunks: e.ChunkCount})
	}

	if opts.DryRun || len(removals) == 0 {
		return report, nil
	}

	if err := o.col.BeginIndexing(); err != nil {
		return report, err
	}
	defer func() {
		if err := o.col.EndIndexing(false); err != nil {
			slog.Warn("prune_finalize_failed", slog.String("error", err.Error()))
		}
	}()

	tracker.setTotal(len(removals))
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := o.col.Delete(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, r := range removals {
		// Cancellation is honored between batches; a started batch
		// finishes so the store never holds a half-deleted file.
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			if ferr := flush(); ferr != nil {
				return report, ferr
			}
			return report, err
		}

		ids, err := o.col.ChunkIDsByPath(r.path)
		if err != nil {
			return report, err
		}
		batch = append(batch, ids...)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}

		if o.fts != nil {
			if err := o.fts.DeleteByPath(ctx, r.path); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("prune_fts_delete_failed",
					slog.String("path", r.path),
					slog.String("error", err.Error()))
			}
		}
		tracker.update(r.path, StatusDone, 1, 1)
	}
	if err := flush(); err != nil {
		return report, err
	}

	return report, nil
}
