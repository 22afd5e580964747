package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/daemon"
	"github.com/localci/codeindexer/internal/logging"
	"github.com/localci/codeindexer/internal/output"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the resident daemon",
	}
	cmd.AddCommand(newDaemonRunCmd(), newDaemonStopCmd())
	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon, binding the project socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := loadProject()
			if err != nil {
				return err
			}

			if !foreground {
				cleanup, err := logging.SetupDaemonMode(root, cfg.Daemon.LogLevel)
				if err == nil {
					defer cleanup()
				}
			}

			handles, err := buildHandles(root, cfg)
			if err != nil {
				return err
			}

			srv, err := daemon.NewServer(daemon.ConfigForProject(root, cfg), handles)
			if err != nil {
				return err
			}

			err = srv.ListenAndServe(cmd.Context())
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				// Single-instance contract: losing the bind race is a
				// clean no-op, exit 0.
				output.New(cmd.OutOrStdout()).Status("", "daemon already running")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "log to stderr instead of the daemon log file")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := loadProject()
			if err != nil {
				return err
			}

			client := daemon.NewClient(daemon.ConfigForProject(root, cfg))
			if !client.IsRunning() {
				return unavailableError{fmt.Errorf("no daemon running for %s", root)}
			}
			if err := client.Shutdown(cmd.Context()); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success("daemon stopped")
			return nil
		},
	}
}

// buildHandles wires the daemon's long-lived resources, including the
// reload closure that rebuilds them after external indexing.
func buildHandles(root string, cfg *config.Config) (*daemon.Handles, error) {
	c, err := openCore(root, cfg, true)
	if err != nil {
		return nil, err
	}

	engine, err := c.engine()
	if err != nil {
		c.close()
		return nil, err
	}
	orch, err := c.orchestrator()
	if err != nil {
		c.close()
		return nil, err
	}

	return &daemon.Handles{
		Collection:   c.col,
		FTS:          c.fts,
		Engine:       engine,
		Orchestrator: orch,
		Model:        cfg.Embedding.Model,
		Reload: func() (*daemon.Handles, error) {
			// Re-read config too: a reload often follows a config edit.
			freshCfg, err := config.Load(root)
			if err != nil {
				return nil, err
			}
			return buildHandles(root, freshCfg)
		},
	}, nil
}
