package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/embed"
	"github.com/localci/codeindexer/internal/fts"
	"github.com/localci/codeindexer/internal/scanner"
	"github.com/localci/codeindexer/internal/store"
)

// countingEmbedder wraps the deterministic static embedder and counts
// batch calls, optionally failing on texts containing a marker.
type countingEmbedder struct {
	*embed.StaticEmbedder
	calls  atomic.Int64
	failOn string
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if c.failOn != "" {
		for _, t := range texts {
			if strings.Contains(t, c.failOn) {
				return nil, fmt.Errorf("simulated provider failure")
			}
		}
	}
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

type testEnv struct {
	root     string
	cfg      *config.Config
	col      *store.Collection
	fts      *fts.Index
	embedder *countingEmbedder
	orch     *Orchestrator
}

func newTestEnv(t *testing.T, mutateCfg func(*config.Config)) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Chunking.MaxBytes = 512
	cfg.Chunking.OverlapBytes = 64
	cfg.Embedding.Dimensions = embed.StaticDimensions
	if mutateCfg != nil {
		mutateCfg(cfg)
	}

	col, err := store.CreateCollection(filepath.Join(root, config.DirName, "collections", "default"), "static", embed.StaticDimensions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = col.Close() })

	ftsIdx, err := fts.Open("", fts.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ftsIdx.Close() })

	filter, err := scanner.NewFilter(root, cfg, false)
	require.NoError(t, err)

	embedder := &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}

	orch, err := New(root, cfg, col, ftsIdx, embedder, filter)
	require.NoError(t, err)

	return &testEnv{root: root, cfg: cfg, col: col, fts: ftsIdx, embedder: embedder, orch: orch}
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIndexBasic(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "src/a.py", "def login(user):\n    return authenticate(user)\n")
	env.write(t, "src/b.py", "def helper():\n    pass\n")

	stats, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.EmbeddingCalls)
	assert.Equal(t, int64(2), env.embedder.calls.Load())
	assert.GreaterOrEqual(t, stats.Chunks, 2)

	count, err := env.col.Count()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 2)

	// The collection answers a semantic query for the login file first.
	qvec, err := env.embedder.Embed(context.Background(), "user login")
	require.NoError(t, err)
	results, err := env.col.Search(qvec, store.SearchOptions{K: 1})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "src/a.py", results[0].Record.Path)
}

func TestIndexResumeSkipsUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "src/a.py", "def login(user):\n    pass\n")
	env.write(t, "src/b.py", "def other():\n    pass\n")

	_, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)
	require.Equal(t, int64(2), env.embedder.calls.Load())

	// Touch b's mtime without changing its content: hashing re-runs,
	// embedding does not.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(env.root, "src/b.py"), future, future))

	stats, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 2, stats.SkipReasons["unchanged"])
	assert.Equal(t, 0, stats.EmbeddingCalls)
	assert.Equal(t, int64(2), env.embedder.calls.Load())
}

func TestIndexReindexesChangedContent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "a.go", "package a\nfunc One() {}\n")

	_, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)
	oldIDs, err := env.col.ChunkIDsByPath("a.go")
	require.NoError(t, err)

	env.write(t, "a.go", "package a\nfunc Two() {}\n")
	stats, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)

	newIDs, err := env.col.ChunkIDsByPath("a.go")
	require.NoError(t, err)
	assert.NotEqual(t, oldIDs, newIDs)

	// Old chunk ids are gone from the live set.
	count, err := env.col.Count()
	require.NoError(t, err)
	assert.Equal(t, len(newIDs), count)
}

func TestFileAtomicityOnEmbedFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.embedder.failOn = "POISON"
	env.write(t, "good.py", "def fine():\n    pass\n")
	env.write(t, "bad.py", "def broken():\n    POISON\n")

	stats, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.FailedFiles, 1)
	assert.Equal(t, "bad.py", stats.FailedFiles[0].Path)

	// None of the failed file's chunks persisted.
	ids, err := env.col.ChunkIDsByPath("bad.py")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = env.col.ChunkIDsByPath("good.py")
	require.NoError(t, err)
	assert.NotEmpty(t, ids)
}

func TestBranchReuseAvoidsEmbedding(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "src/shared.py", "def shared():\n    pass\n")

	_, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)
	callsAfterMain := env.embedder.calls.Load()

	// Same content observed while indexing another branch: visibility
	// rows are written, nothing is re-embedded.
	stats, err := env.orch.Index(context.Background(), Options{Branch: "feature"})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.EmbeddingCalls)
	assert.Equal(t, callsAfterMain, env.embedder.calls.Load())

	ids, err := env.col.ChunkIDsByPath("src/shared.py")
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	for _, id := range ids {
		onFeature, err := env.col.Visible(id, "feature")
		require.NoError(t, err)
		assert.True(t, onFeature)
		onMain, err := env.col.Visible(id, "main")
		require.NoError(t, err)
		assert.True(t, onMain)
	}
}

func TestConcurrentWorkersOneBatchPerFile(t *testing.T) {
	env := newTestEnv(t, nil)
	const n = 60
	for i := 0; i < n; i++ {
		env.write(t, fmt.Sprintf("src/file%02d.go", i), fmt.Sprintf("package src\nfunc F%02d() {}\n", i))
	}

	stats, err := env.orch.Index(context.Background(), Options{Branch: "main", FileWorkers: 14})
	require.NoError(t, err)

	assert.Equal(t, n, stats.Processed)
	assert.Equal(t, 0, stats.Failed)
	// One embedding batch per processed file.
	assert.Equal(t, int64(n), env.embedder.calls.Load())

	// Every file's chunk set persisted completely.
	for i := 0; i < n; i++ {
		ids, err := env.col.ChunkIDsByPath(fmt.Sprintf("src/file%02d.go", i))
		require.NoError(t, err)
		assert.NotEmpty(t, ids)
	}
}

func TestIndexSkipsBinaryAsDataError(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		// Force the binary file past the scanner so the chunker's own
		// classification path is exercised.
		c.Filters.ForceIncludePatterns = []string{"blob.go"}
	})
	env.write(t, "ok.go", "package ok\n")

	blob := append([]byte("package b\n"), 0, 0, 0, 0)
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "blob.go"), blob, 0o644))

	stats, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	// Binary file recorded as a skip, not a failure, and the session
	// completed.
	assert.Equal(t, 0, stats.Failed)
}

func TestProgressSnapshots(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "a.go", "package a\n")
	env.write(t, "b.go", "package b\n")

	var snaps []Snapshot
	_, err := env.orch.Index(context.Background(), Options{
		Branch:   "main",
		Progress: func(s Snapshot) { snaps = append(snaps, s) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, snaps)

	sawSetup := false
	for _, s := range snaps {
		if s.Total == 0 {
			sawSetup = true
			// Setup messages carry no per-file state.
			assert.Empty(t, s.Files)
		}
	}
	assert.True(t, sawSetup)
}

func TestRemoveFile(t *testing.T) {
	env := newTestEnv(t, nil)
	env.write(t, "gone.go", "package gone\n")

	_, err := env.orch.Index(context.Background(), Options{Branch: "main"})
	require.NoError(t, err)

	require.NoError(t, env.col.BeginIndexing())
	require.NoError(t, env.orch.RemoveFile(context.Background(), "gone.go"))
	require.NoError(t, env.col.EndIndexing(false))

	ids, err := env.col.ChunkIDsByPath("gone.go")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
