// Package config loads and persists the project configuration under
// <project>/.code-indexer/. The canonical on-disk format is
// config.json; a sibling config.yaml is accepted as a human-editable
// override and merged in before the JSON is written back.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/localci/codeindexer/internal/atomicfile"
)

const (
	// DirName is the per-project state directory.
	DirName = ".code-indexer"

	// FileName is the canonical configuration file inside DirName.
	FileName = "config.json"

	// OverrideFileName is the optional YAML override inside DirName.
	OverrideFileName = "config.yaml"
)

// Config is the complete project configuration.
type Config struct {
	Version   int             `json:"version" yaml:"version"`
	Filters   FilterConfig    `json:"filters" yaml:"filters"`
	Chunking  ChunkingConfig  `json:"chunking" yaml:"chunking"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	FTS       FTSConfig       `json:"fts" yaml:"fts"`
	Indexing  IndexingConfig  `json:"indexing" yaml:"indexing"`
	Daemon    DaemonConfig    `json:"daemon" yaml:"daemon"`
}

// FilterConfig is the file-filtering surface the core consumes.
// Precedence at match time: force_exclude > force_include > base
// (size, extension, directory, gitignore, binary detection).
type FilterConfig struct {
	FileExtensions       []string `json:"file_extensions" yaml:"file_extensions"`
	AddExtensions        []string `json:"add_extensions" yaml:"add_extensions"`
	RemoveExtensions     []string `json:"remove_extensions" yaml:"remove_extensions"`
	ExcludeDirs          []string `json:"exclude_dirs" yaml:"exclude_dirs"`
	MaxFileSize          int64    `json:"max_file_size" yaml:"max_file_size"`
	ForceIncludePatterns []string `json:"force_include_patterns" yaml:"force_include_patterns"`
	ForceExcludePatterns []string `json:"force_exclude_patterns" yaml:"force_exclude_patterns"`
}

// ChunkingConfig sizes the fixed-overlap chunker.
type ChunkingConfig struct {
	MaxBytes     int `json:"max_bytes" yaml:"max_bytes"`
	OverlapBytes int `json:"overlap_bytes" yaml:"overlap_bytes"`
}

// EmbeddingConfig configures the external embedding provider.
type EmbeddingConfig struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	Model      string `json:"model" yaml:"model"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`

	// ParallelRequests sizes the per-file pipeline pool. Precedence:
	// CLI flag > this value > the provider default of 8.
	ParallelRequests int `json:"parallel_requests" yaml:"parallel_requests"`

	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	RetryDelay string `json:"retry_delay" yaml:"retry_delay"`
	Timeout    string `json:"timeout" yaml:"timeout"`
}

// FTSConfig enables the optional full-text companion index.
type FTSConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	BatchSize int  `json:"batch_size" yaml:"batch_size"`
}

// IndexingConfig tunes the pipeline worker pools.
type IndexingConfig struct {
	HashWorkers   int    `json:"hash_workers" yaml:"hash_workers"`
	WatchDebounce string `json:"watch_debounce" yaml:"watch_debounce"`
}

// DaemonConfig configures the resident daemon.
type DaemonConfig struct {
	SocketPath string `json:"socket_path" yaml:"socket_path"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
}

// defaultExtensions are the extensions indexed out of the box.
var defaultExtensions = []string{
	"go", "py", "js", "jsx", "ts", "tsx", "java", "c", "h", "cpp", "hpp",
	"cc", "rs", "rb", "php", "swift", "kt", "scala", "cs", "sh", "bash",
	"sql", "html", "css", "scss", "json", "yaml", "yml", "toml", "md",
	"rst", "txt", "proto", "graphql", "tf", "dockerfile",
}

// defaultExcludeDirs are never walked.
var defaultExcludeDirs = []string{
	"node_modules", ".git", "vendor", "__pycache__", "dist", "build",
	"target", ".venv", "venv", ".idea", ".vscode", DirName,
}

// DefaultParallelRequests is the canonical provider's pool size.
const DefaultParallelRequests = 8

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Version: 1,
		Filters: FilterConfig{
			FileExtensions: append([]string(nil), defaultExtensions...),
			ExcludeDirs:    append([]string(nil), defaultExcludeDirs...),
			MaxFileSize:    1024 * 1024, // 1 MiB
		},
		Chunking: ChunkingConfig{
			MaxBytes:     2048,
			OverlapBytes: 256,
		},
		Embedding: EmbeddingConfig{
			Endpoint:         "https://api.voyageai.com/v1",
			Model:            "voyage-code-2",
			Dimensions:       1024,
			ParallelRequests: DefaultParallelRequests,
			MaxRetries:       5,
			RetryDelay:       "1s",
			Timeout:          "300s",
		},
		FTS: FTSConfig{
			Enabled:   true,
			BatchSize: 500,
		},
		Indexing: IndexingConfig{
			HashWorkers:   runtime.NumCPU(),
			WatchDebounce: "500ms",
		},
		Daemon: DaemonConfig{
			LogLevel: "info",
		},
	}
}

// Dir returns the state directory for a project root.
func Dir(root string) string {
	return filepath.Join(root, DirName)
}

// Path returns the canonical config file path for a project root.
func Path(root string) string {
	return filepath.Join(Dir(root), FileName)
}

// OverridePath returns the YAML override path for a project root.
func OverridePath(root string) string {
	return filepath.Join(Dir(root), OverrideFileName)
}

// Load reads configuration for root in increasing precedence:
//
//  1. hardcoded defaults
//  2. .code-indexer/config.json
//  3. .code-indexer/config.yaml (human-edited override)
//  4. CODEINDEXER_* environment variables
//
// A missing config file is fine; defaults apply.
func Load(root string) (*Config, error) {
	cfg := Default()

	jsonPath := Path(root)
	if data, err := os.ReadFile(jsonPath); err == nil {
		var parsed Config
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", jsonPath, err)
		}
		cfg.mergeWith(&parsed)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", jsonPath, err)
	}

	yamlPath := OverridePath(root)
	if data, err := os.ReadFile(yamlPath); err == nil {
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", yamlPath, err)
		}
		cfg.mergeWith(&parsed)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", yamlPath, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes cfg as the canonical config.json, atomically.
func (c *Config) Save(root string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return atomicfile.Write(Path(root), data, 0o644)
}

// mergeWith overlays non-zero values from other onto c. Slices replace
// rather than append, except exclude_dirs which extend the defaults.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Filters.FileExtensions) > 0 {
		c.Filters.FileExtensions = other.Filters.FileExtensions
	}
	if len(other.Filters.AddExtensions) > 0 {
		c.Filters.AddExtensions = other.Filters.AddExtensions
	}
	if len(other.Filters.RemoveExtensions) > 0 {
		c.Filters.RemoveExtensions = other.Filters.RemoveExtensions
	}
	if len(other.Filters.ExcludeDirs) > 0 {
		c.Filters.ExcludeDirs = append(c.Filters.ExcludeDirs, other.Filters.ExcludeDirs...)
	}
	if other.Filters.MaxFileSize != 0 {
		c.Filters.MaxFileSize = other.Filters.MaxFileSize
	}
	if len(other.Filters.ForceIncludePatterns) > 0 {
		c.Filters.ForceIncludePatterns = other.Filters.ForceIncludePatterns
	}
	if len(other.Filters.ForceExcludePatterns) > 0 {
		c.Filters.ForceExcludePatterns = other.Filters.ForceExcludePatterns
	}

	if other.Chunking.MaxBytes != 0 {
		c.Chunking.MaxBytes = other.Chunking.MaxBytes
	}
	if other.Chunking.OverlapBytes != 0 {
		c.Chunking.OverlapBytes = other.Chunking.OverlapBytes
	}

	if other.Embedding.Endpoint != "" {
		c.Embedding.Endpoint = other.Embedding.Endpoint
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.ParallelRequests != 0 {
		c.Embedding.ParallelRequests = other.Embedding.ParallelRequests
	}
	if other.Embedding.MaxRetries != 0 {
		c.Embedding.MaxRetries = other.Embedding.MaxRetries
	}
	if other.Embedding.RetryDelay != "" {
		c.Embedding.RetryDelay = other.Embedding.RetryDelay
	}
	if other.Embedding.Timeout != "" {
		c.Embedding.Timeout = other.Embedding.Timeout
	}

	if other.FTS.BatchSize != 0 {
		c.FTS.Enabled = other.FTS.Enabled
		c.FTS.BatchSize = other.FTS.BatchSize
	}

	if other.Indexing.HashWorkers != 0 {
		c.Indexing.HashWorkers = other.Indexing.HashWorkers
	}
	if other.Indexing.WatchDebounce != "" {
		c.Indexing.WatchDebounce = other.Indexing.WatchDebounce
	}

	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.LogLevel != "" {
		c.Daemon.LogLevel = other.Daemon.LogLevel
	}
}

// applyEnvOverrides applies CODEINDEXER_* environment overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODEINDEXER_SOCKET_PATH"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("CODEINDEXER_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("CODEINDEXER_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("CODEINDEXER_PARALLEL_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.ParallelRequests = n
		}
	}
	if v := os.Getenv("CODEINDEXER_LOG_LEVEL"); v != "" {
		c.Daemon.LogLevel = v
	}
}

// EffectiveExtensions resolves file_extensions with add/remove applied,
// lowercased, without leading dots.
func (c *Config) EffectiveExtensions() map[string]bool {
	exts := make(map[string]bool, len(c.Filters.FileExtensions))
	for _, e := range c.Filters.FileExtensions {
		exts[normalizeExt(e)] = true
	}
	for _, e := range c.Filters.AddExtensions {
		exts[normalizeExt(e)] = true
	}
	for _, e := range c.Filters.RemoveExtensions {
		delete(exts, normalizeExt(e))
	}
	return exts
}

func normalizeExt(e string) string {
	return strings.ToLower(strings.TrimPrefix(e, "."))
}

// ParseDuration resolves a config duration string with a fallback.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// Validate checks the configuration for values the core would
// otherwise have to guard against at every call site.
func (c *Config) Validate() error {
	if c.Filters.MaxFileSize < 0 {
		return fmt.Errorf("filters.max_file_size must be non-negative, got %d", c.Filters.MaxFileSize)
	}
	if c.Chunking.MaxBytes <= 0 {
		return fmt.Errorf("chunking.max_bytes must be positive, got %d", c.Chunking.MaxBytes)
	}
	if c.Chunking.OverlapBytes < 0 {
		return fmt.Errorf("chunking.overlap_bytes must be non-negative, got %d", c.Chunking.OverlapBytes)
	}
	if c.Chunking.OverlapBytes >= c.Chunking.MaxBytes/2 {
		return fmt.Errorf("chunking.overlap_bytes must be less than half of max_bytes (%d >= %d/2)",
			c.Chunking.OverlapBytes, c.Chunking.MaxBytes)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.ParallelRequests <= 0 {
		return fmt.Errorf("embedding.parallel_requests must be positive, got %d", c.Embedding.ParallelRequests)
	}
	if _, err := time.ParseDuration(c.Embedding.RetryDelay); c.Embedding.RetryDelay != "" && err != nil {
		return fmt.Errorf("embedding.retry_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Embedding.Timeout); c.Embedding.Timeout != "" && err != nil {
		return fmt.Errorf("embedding.timeout: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Daemon.LogLevel)] {
		return fmt.Errorf("daemon.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Daemon.LogLevel)
	}

	return nil
}

// SocketPath resolves the daemon socket path for a project root,
// honoring the configured override.
func (c *Config) SocketPath(root string) string {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath
	}
	return filepath.Join(Dir(root), "daemon.sock")
}

// FindProjectRoot walks up from startDir looking for a directory
// containing .code-indexer or .git; falling back to startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", startDir, err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, DirName)) {
			return currentDir, nil
		}
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
