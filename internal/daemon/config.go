// Package daemon is the resident worker (component C8): a per-project
// process that keeps the HNSW overlay, FTS reader, and embedding
// client warm and serves queries over a Unix domain socket. The socket
// bind itself is the single-instance lock; a PID file exists alongside
// purely for operator visibility.
package daemon

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/localci/codeindexer/internal/config"
)

// Config holds daemon wiring for one project.
type Config struct {
	// SocketPath is the Unix domain socket path.
	SocketPath string

	// PIDPath is the informational PID file path.
	PIDPath string

	// Timeout bounds one client-daemon exchange.
	Timeout time.Duration

	// PingTimeout bounds a liveness probe.
	PingTimeout time.Duration

	// ShutdownGracePeriod is how long active connections get to drain.
	ShutdownGracePeriod time.Duration
}

// ConfigForProject derives daemon paths from a project root, honoring
// the socket override in the project config.
func ConfigForProject(root string, cfg *config.Config) Config {
	return Config{
		SocketPath:          cfg.SocketPath(root),
		PIDPath:             filepath.Join(config.Dir(root), "daemon.pid"),
		Timeout:             30 * time.Second,
		PingTimeout:         1 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}
