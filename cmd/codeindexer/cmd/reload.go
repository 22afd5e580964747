package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/daemon"
	"github.com/localci/codeindexer/internal/output"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running daemon to re-read the collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := loadProject()
			if err != nil {
				return err
			}

			client := daemon.NewClient(daemon.ConfigForProject(root, cfg))
			if !client.IsRunning() {
				return unavailableError{fmt.Errorf("no daemon running for %s", root)}
			}
			if err := client.Reload(cmd.Context()); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success("daemon reloaded")
			return nil
		},
	}
}
