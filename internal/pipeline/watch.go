package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/localci/codeindexer/internal/branch"
	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/scanner"
	"github.com/localci/codeindexer/internal/watcher"
)

// WatchOptions configures watch mode.
type WatchOptions struct {
	Branch   string
	Progress ProgressFunc

	// OnConfigChange is invoked when the project config file changes;
	// the caller decides whether to rebuild filters or restart.
	OnConfigChange func()
}

// Watch feeds file-system change events into the per-file pipeline
// with immediate HNSW and FTS updates. It holds one indexing session
// open for its whole lifetime; on shutdown the session is finalized so
// the overlay is patched from the accumulated change set.
func (o *Orchestrator) Watch(ctx context.Context, opts WatchOptions) error {
	branchName := opts.Branch
	if branchName == "" {
		branchName = branch.DetectBranch(o.root)
	}

	tracker := newProgressTracker(opts.Progress)
	defer tracker.close()
	stats := newStatsCollector()

	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: config.ParseDuration(o.cfg.Indexing.WatchDebounce, 0),
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	if err := o.col.BeginIndexing(); err != nil {
		return err
	}
	defer func() {
		if err := o.col.EndIndexing(false); err != nil {
			slog.Warn("watch_finalize_failed", slog.String("error", err.Error()))
		}
	}()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Start(ctx, o.root)
	}()

	tracker.setup("watching for changes")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watchErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range events {
				o.handleWatchEvent(ctx, ev, branchName, opts, tracker, stats)
			}
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) handleWatchEvent(ctx context.Context, ev watcher.FileEvent, branchName string, opts WatchOptions, tracker *progressTracker, stats *statsCollector) {
	if ev.IsDir {
		return
	}

	switch ev.Operation {
	case watcher.OpCreate, watcher.OpModify, watcher.OpRename:
		info, err := o.statFile(ev.Path)
		if err != nil {
			// Renamed/removed before we could stat it: treat as delete.
			o.removeWatched(ctx, ev.Path)
			return
		}
		if o.filter.Evaluate(ev.Path, info.Size) != scanner.ReasonOK {
			return
		}
		o.processFile(ctx, fileTask{info: info}, branchName, true, tracker, stats)

	case watcher.OpDelete:
		o.removeWatched(ctx, ev.Path)

	case watcher.OpGitignoreChange:
		o.filter.InvalidateGitignoreCache()

	case watcher.OpConfigChange:
		if opts.OnConfigChange != nil {
			opts.OnConfigChange()
		}
	}
}

func (o *Orchestrator) removeWatched(ctx context.Context, relPath string) {
	if err := o.RemoveFile(ctx, relPath); err != nil {
		slog.Warn("watch_remove_failed",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
	}
}
