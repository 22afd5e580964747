package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/daemon"
	"github.com/localci/codeindexer/internal/output"
	"github.com/localci/codeindexer/internal/preflight"
	"github.com/localci/codeindexer/internal/store"
)

func newStatusCmd() *cobra.Command {
	var checks bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := loadProject()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())

			client := daemon.NewClient(daemon.ConfigForProject(root, cfg))
			if client.IsRunning() {
				stats, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out.Successf("daemon running (pid %d, up %s)", stats.PID, stats.Uptime)
				out.Statusf("", "chunks: %d, fts docs: %d, model: %s", stats.ChunkCount, stats.FTSDocs, stats.Model)
				out.Statusf("", "queries served: %d, reloads: %d", stats.QueryCount, stats.ReloadCount)
				if stats.HNSWStale {
					out.Warning("hnsw overlay is stale; queries fall back to brute force until rebuilt")
				}
			} else {
				out.Status("", "daemon not running")
				if col, err := store.OpenCollection(collectionDir(root)); err == nil {
					if n, cerr := col.Count(); cerr == nil {
						out.Statusf("", "chunks: %d", n)
					}
					if col.HNSWStale() {
						out.Warning("hnsw overlay is stale")
					}
					_ = col.Close()
				} else {
					out.Status("", "no collection indexed yet")
				}
			}

			if checks {
				checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()))
				results := checker.RunAll(cmd.Context(), root)
				results = append(results, checker.CheckProviderAPIKey())
				checker.PrintResults(results)
				if checker.HasCriticalFailures(results) {
					return unavailableError{errors.New("preflight checks failed")}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checks, "checks", false, "run preflight checks")
	return cmd
}
