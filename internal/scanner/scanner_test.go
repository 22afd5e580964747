package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localci/codeindexer/internal/config"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func newTestFilter(t *testing.T, root string, mutate func(*config.Config), gitignore bool) *Filter {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	f, err := NewFilter(root, cfg, gitignore)
	require.NoError(t, err)
	return f
}

func collectPaths(t *testing.T, s *Scanner) []string {
	t.Helper()
	results, err := s.Scan(context.Background())
	require.NoError(t, err)

	var paths []string
	for r := range results {
		require.NoError(t, r.Error)
		paths = append(paths, r.File.Path)
	}
	return paths
}

func TestScanFindsSourceFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.go", []byte("package a"))
	writeFile(t, root, "src/b.py", []byte("x = 1"))
	writeFile(t, root, "README.md", []byte("# hi"))

	paths := collectPaths(t, New(newTestFilter(t, root, nil, false)))
	assert.ElementsMatch(t, []string{"src/a.go", "src/b.py", "README.md"}, paths)
}

func TestScanSkipsUnknownExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a"))
	writeFile(t, root, "blob.xyz", []byte("???"))

	paths := collectPaths(t, New(newTestFilter(t, root, nil, false)))
	assert.Equal(t, []string{"a.go"}, paths)
}

func TestScanSkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.go", []byte("package a"))
	writeFile(t, root, "node_modules/lib/index.js", []byte("x"))
	writeFile(t, root, "vendor/dep/dep.go", []byte("package dep"))

	paths := collectPaths(t, New(newTestFilter(t, root, nil, false)))
	assert.Equal(t, []string{"src/a.go"}, paths)
}

func TestScanSkipsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a"))
	writeFile(t, root, "blob.go", append([]byte("package b\x00"), make([]byte, 64)...))

	paths := collectPaths(t, New(newTestFilter(t, root, nil, false)))
	assert.Equal(t, []string{"a.go"}, paths)
}

func TestScanSkipsOversizeFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.go", []byte("package s"))
	writeFile(t, root, "big.go", make([]byte, 2048))

	paths := collectPaths(t, New(newTestFilter(t, root, func(c *config.Config) {
		c.Filters.MaxFileSize = 1024
	}, false)))
	assert.Equal(t, []string{"small.go"}, paths)
}

func TestScanRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", []byte("generated.go\n"))
	writeFile(t, root, "kept.go", []byte("package kept"))
	writeFile(t, root, "generated.go", []byte("package generated"))

	paths := collectPaths(t, New(newTestFilter(t, root, func(c *config.Config) {
		c.Filters.AddExtensions = []string{"gitignore"}
	}, true)))
	assert.NotContains(t, paths, "generated.go")
	assert.Contains(t, paths, "kept.go")
}

func TestScanNestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/.gitignore", []byte("local.go\n"))
	writeFile(t, root, "sub/local.go", []byte("package local"))
	writeFile(t, root, "sub/kept.go", []byte("package kept"))

	paths := collectPaths(t, New(newTestFilter(t, root, nil, true)))
	assert.NotContains(t, paths, "sub/local.go")
	assert.Contains(t, paths, "sub/kept.go")
}

func TestFilterPrecedence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.log", []byte("forced in"))
	writeFile(t, root, "drop.go", []byte("package drop"))

	f := newTestFilter(t, root, func(c *config.Config) {
		c.Filters.ForceIncludePatterns = []string{"*.log"}
		c.Filters.ForceExcludePatterns = []string{"drop.go"}
	}, false)

	// force_include overrides the extension base rule.
	assert.Equal(t, ReasonOK, f.Evaluate("keep.log", 8))
	// force_exclude beats everything.
	assert.Equal(t, ReasonOverrideExclude, f.Evaluate("drop.go", 8))
}

func TestForceExcludeBeatsForceInclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "both.go", []byte("package both"))

	f := newTestFilter(t, root, func(c *config.Config) {
		c.Filters.ForceIncludePatterns = []string{"both.go"}
		c.Filters.ForceExcludePatterns = []string{"both.go"}
	}, false)

	assert.Equal(t, ReasonOverrideExclude, f.Evaluate("both.go", 8))
}

func TestEvaluateReasons(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a"))

	f := newTestFilter(t, root, func(c *config.Config) {
		c.Filters.MaxFileSize = 100
	}, false)

	assert.Equal(t, ReasonOK, f.Evaluate("a.go", 9))
	assert.Equal(t, ReasonOversize, f.Evaluate("a.go", 1000))
	assert.Equal(t, ReasonExtension, f.Evaluate("a.unknown", 9))
	assert.Equal(t, ReasonDirectory, f.Evaluate("node_modules/a.go", 9))
	assert.Equal(t, ReasonMissing, f.Evaluate("gone.go", -1))
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, root, filepath.Join("src", string(rune('a'+i%26))+".go"), []byte("package x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(newTestFilter(t, root, nil, false)).Scan(ctx)
	require.NoError(t, err)

	count := 0
	for range results {
		count++
	}
	// The walk stops promptly; nothing like the full tree is emitted.
	assert.Less(t, count, 50)
}

func TestScanRootMissing(t *testing.T) {
	cfg := config.Default()
	f, err := NewFilter(filepath.Join(t.TempDir(), "missing"), cfg, false)
	require.NoError(t, err)

	_, err = New(f).Scan(context.Background())
	require.Error(t, err)
}
