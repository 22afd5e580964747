package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/localci/codeindexer/internal/config"
)

// LogDir returns the project-local log directory.
func LogDir(root string) string {
	return filepath.Join(config.Dir(root), "logs")
}

// LogPath returns the main log file path for a project.
func LogPath(root string) string {
	return filepath.Join(LogDir(root), "codeindexer.log")
}

// DaemonLogPath returns the daemon's log file path for a project.
func DaemonLogPath(root string) string {
	return filepath.Join(LogDir(root), "daemon.log")
}

// EnsureLogDir creates the project log directory.
func EnsureLogDir(root string) error {
	if err := os.MkdirAll(LogDir(root), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	return nil
}

// FindLogFile resolves the log file to inspect: an explicit path when
// given, otherwise the project's main log.
func FindLogFile(root, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	path := LogPath(root)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no log file found under %s", LogDir(root))
}
