// Package cmd provides the CLI commands for codeindexer. The CLI is a
// thin collaborator: it parses flags, builds option structs, and calls
// into the core packages; when a daemon is running, queries delegate
// to it.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/cerrors"
	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/logging"
	"github.com/localci/codeindexer/pkg/version"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitUserError   = 1
	ExitUnavailable = 2
	ExitInternal    = 3
)

var (
	flagProject  string
	flagLogLevel string

	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeindexer",
		Short: "Local, git-aware semantic code search",
		Long: `codeindexer chunks your source tree, embeds it through an external
embedding provider, and answers semantic, full-text, and hybrid
queries from a local on-disk index with sub-second latency.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			cleanup, err := logging.SetupDefault(root, flagLogLevel)
			if err != nil {
				// Logging is best effort; the CLI still works without it.
				return nil
			}
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "project root (default: walk up from cwd)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newIndexCmd(),
		newWatchCmd(),
		newQueryCmd(),
		newPruneCmd(),
		newStatusCmd(),
		newReloadCmd(),
		newDaemonCmd(),
	)

	return cmd
}

// Execute runs the CLI and maps errors onto the exit-code contract:
// 0 success, 1 user error, 2 unavailable collaborator, 3 internal.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeFor(err)
	}
	return ExitOK
}

func exitCodeFor(err error) int {
	var ce *cerrors.CodeError
	if errors.As(err, &ce) {
		switch ce.Category {
		case cerrors.CategoryInput:
			return ExitUserError
		case cerrors.CategoryEnvironment:
			return ExitUnavailable
		default:
			return ExitInternal
		}
	}
	var ue userError
	if errors.As(err, &ue) {
		return ExitUserError
	}
	var uv unavailableError
	if errors.As(err, &uv) {
		return ExitUnavailable
	}
	return ExitInternal
}

// userError marks a caller mistake (exit 1).
type userError struct{ err error }

func (e userError) Error() string { return e.err.Error() }
func (e userError) Unwrap() error { return e.err }

// unavailableError marks a missing collaborator (exit 2).
type unavailableError struct{ err error }

func (e unavailableError) Error() string { return e.err.Error() }
func (e unavailableError) Unwrap() error { return e.err }

// projectRoot resolves the project root from the flag or by walking up
// from the working directory.
func projectRoot() (string, error) {
	if flagProject != "" {
		return flagProject, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return config.FindProjectRoot(cwd)
}

// loadProject resolves the root and its configuration.
func loadProject() (string, *config.Config, error) {
	root, err := projectRoot()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, userError{err}
	}
	return root, cfg, nil
}
