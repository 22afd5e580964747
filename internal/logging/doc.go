// Package logging provides structured slog-based logging with
// size-rotated files under the project's .code-indexer/logs directory.
// The CLI logs to stderr and file; the detached daemon logs to file
// only, since it owns no terminal.
package logging
