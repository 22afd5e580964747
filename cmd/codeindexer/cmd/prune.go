package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/output"
	"github.com/localci/codeindexer/internal/pipeline"
	"github.com/localci/codeindexer/internal/scanner"
)

func newPruneCmd() *cobra.Command {
	var (
		dryRun    bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove records whose paths no longer pass the current filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := loadProject()
			if err != nil {
				return err
			}

			c, err := openCore(root, cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			orch, err := c.orchestrator()
			if err != nil {
				return err
			}

			report, err := orch.Prune(cmd.Context(), pipeline.PruneOptions{
				DryRun:    dryRun,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if report.DryRun {
				out.Statusf("", "dry run: %d of %d paths would be removed (%d chunks, ~%d bytes)",
					report.RemovedPaths, report.ScannedPaths, report.RemovedChunks, report.BytesSaved)
			} else {
				out.Successf("removed %d of %d paths (%d chunks)",
					report.RemovedPaths, report.ScannedPaths, report.RemovedChunks)
			}

			reasons := make([]string, 0, len(report.Reasons))
			for r := range report.Reasons {
				reasons = append(reasons, string(r))
			}
			sort.Strings(reasons)
			for _, r := range reasons {
				out.Statusf("", "  %s: %d", r, report.Reasons[scanner.Reason(r)])
			}
			if report.Cancelled {
				out.Warning("prune cancelled; completed batches remain deleted")
			}

			if !report.DryRun && report.RemovedPaths > 0 {
				notifyDaemonReload(cmd.Context(), root, cfg)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting")
	cmd.Flags().IntVar(&batchSize, "batch-size", pipeline.DefaultPruneBatchSize, "chunk deletions per batch")
	return cmd
}
