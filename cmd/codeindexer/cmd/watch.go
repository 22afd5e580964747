package cmd

import (
	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/output"
	"github.com/localci/codeindexer/internal/pipeline"
)

func newWatchCmd() *cobra.Command {
	var branchFlag string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index the project, then keep the index fresh on file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := loadProject()
			if err != nil {
				return err
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
				Progress: progressPrinter(out),
			})
			if err != nil {
				return err
			}
			printIndexSummary(out, stats)

			out.Status("", "watching for changes (ctrl-c to stop)")
			return orch.Watch(cmd.Context(), pipeline.WatchOptions{
				Branch: branchFlag,
				OnConfigChange: func() {
					out.Warning("config changed; restart watch to apply new filters")
				},
			})
		},
	}

	cmd.Flags().StringVar(&branchFlag, "branch", "", "branch to record visibility under")
	return cmd
}
