package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/cerrors"
	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/daemon"
	"github.com/localci/codeindexer/internal/output"
	"github.com/localci/codeindexer/internal/pipeline"
)

func newIndexCmd() *cobra.Command {
	var (
		branchFlag   string
		skipHNSW     bool
		parallelFlag int
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the project tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := loadProject()
			if err != nil {
				return err
			}
			// Flag precedence for T_file: CLI flag > config > default.
			if parallelFlag > 0 {
				cfg.Embedding.ParallelRequests = parallelFlag
			}

			c, err := openCore(root, cfg, true)
			if err != nil {
				return err
			}
			defer c.close()

			orch, err := c.orchestrator()
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			stats, err := orch.Index(cmd.Context(), pipeline.Options{
				Branch:   branchFlag,
				SkipHNSW: skipHNSW,
				Progress: progressPrinter(out),
			})
			if err != nil {
				return err
			}
			printIndexSummary(out, stats)

			// A running daemon holds stale handles now; ask it to
			// re-read the collection.
			notifyDaemonReload(cmd.Context(), root, cfg)
			return nil
		},
	}

	cmd.Flags().StringVar(&branchFlag, "branch", "", "branch to record visibility under (default: detect from git)")
	cmd.Flags().BoolVar(&skipHNSW, "skip-hnsw", false, "defer HNSW maintenance; queries fall back to brute force")
	cmd.Flags().IntVar(&parallelFlag, "parallel", 0, "per-file pipeline workers (overrides config parallel_requests)")

	return cmd
}

// progressPrinter renders snapshots as single-line progress updates.
func progressPrinter(out *output.Writer) pipeline.ProgressFunc {
	return func(s pipeline.Snapshot) {
		if s.Total == 0 {
			if s.Message != "" {
				out.Status("", s.Message)
			}
			return
		}
		msg := ""
		if len(s.Files) > 0 {
			msg = s.Files[0].Path
		}
		out.Progress(s.Completed, s.Total, msg)
	}
}

// printIndexSummary always terminates progress output with a summary:
// processed / skipped / failed counts with reason breakdown.
func printIndexSummary(out *output.Writer, stats pipeline.Stats) {
	out.ProgressDone()
	out.Successf("indexed %d files (%d chunks, %d embedding calls)",
		stats.Processed, stats.Chunks, stats.EmbeddingCalls)
	if stats.Reused > 0 {
		out.Statusf("", "%d reused across branches", stats.Reused)
	}
	if stats.Skipped > 0 {
		reasons := make([]string, 0, len(stats.SkipReasons))
		for r := range stats.SkipReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			out.Statusf("", "%d skipped (%s)", stats.SkipReasons[r], r)
		}
	}
	if stats.Failed > 0 {
		out.Warningf("%d failed", stats.Failed)
		for _, f := range stats.FailedFiles {
			out.Statusf("", "  %s: %s", f.Path, f.Reason)
		}
	}
}

// notifyDaemonReload is best effort: no daemon, no problem. The short
// retry tolerates a reload racing the daemon's own handle swap.
func notifyDaemonReload(ctx context.Context, root string, cfg *config.Config) {
	client := daemon.NewClient(daemon.ConfigForProject(root, cfg))
	if !client.IsRunning() {
		return
	}
	err := cerrors.Retry(ctx, cerrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, func() error {
		return client.Reload(ctx)
	})
	if err != nil {
		fmt.Println("warning: daemon reload failed:", err)
	}
}
