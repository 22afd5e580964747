package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localci/codeindexer/internal/chunk"
	"github.com/localci/codeindexer/internal/embed"
	"github.com/localci/codeindexer/internal/fts"
	"github.com/localci/codeindexer/internal/query"
	"github.com/localci/codeindexer/internal/store"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		SocketPath:          filepath.Join(dir, "daemon.sock"),
		PIDPath:             filepath.Join(dir, "daemon.pid"),
		Timeout:             5 * time.Second,
		PingTimeout:         1 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
	}
}

func testHandles(t *testing.T) *Handles {
	t.Helper()
	root := t.TempDir()

	col, err := store.CreateCollection(filepath.Join(root, "collections", "default"), "static", embed.StaticDimensions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = col.Close() })

	ftsIdx, err := fts.Open("", fts.Config{})
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder()

	// Seed one record so queries return something.
	text := "def login(user): authenticate(user)"
	vec, err := embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, col.BeginIndexing())
	require.NoError(t, col.Upsert(store.Record{
		ChunkID:  chunk.ChunkID(chunk.FileHash([]byte(text)), 0, "test"),
		Vector:   vec,
		Path:     "src/auth.py",
		FileHash: "h1",
		Language: "python",
		AddedAt:  time.Now().UTC(),
	}, false))
	require.NoError(t, col.EndIndexing(false))

	engine, err := query.New(root, col, ftsIdx, embedder)
	require.NoError(t, err)

	return &Handles{
		Collection: col,
		FTS:        ftsIdx,
		Engine:     engine,
		Model:      "static",
	}
}

// startServer runs a server in the background and waits for the socket
// to accept.
func startServer(t *testing.T, cfg Config, handles *Handles) (*Server, context.CancelFunc) {
	t.Helper()
	srv, err := NewServer(cfg, handles)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("server did not stop in time")
		}
	})

	client := NewClient(cfg)
	require.Eventually(t, client.IsRunning, 3*time.Second, 20*time.Millisecond)
	return srv, cancel
}

func TestPing(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, testHandles(t))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	require.NoError(t, NewClient(cfg).Ping(ctx))
}

func TestQueryThroughDaemon(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, testHandles(t))

	res, err := NewClient(cfg).Query(context.Background(), QueryParams{
		Text:  "user login",
		Mode:  "hybrid",
		Limit: 5,
	})
	require.NoError(t, err)
	assert.True(t, res.Metadata.SemanticAvailable)
	assert.NotEmpty(t, res.Semantic)
	assert.Equal(t, "src/auth.py", res.Semantic[0].Path)
}

func TestQueryValidationError(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, testHandles(t))

	_, err := NewClient(cfg).Query(context.Background(), QueryParams{Text: ""})
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, testHandles(t))

	client := NewClient(cfg)
	_, err := client.Query(context.Background(), QueryParams{Text: "login", Limit: 1})
	require.NoError(t, err)

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Running)
	assert.Equal(t, 1, stats.ChunkCount)
	assert.Equal(t, uint64(1), stats.QueryCount)
	assert.Equal(t, "static", stats.Model)
}

func TestSecondInstanceExitsCleanly(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, testHandles(t))

	second, err := NewServer(cfg, testHandles(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = second.ListenAndServe(ctx)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestShutdownViaRPC(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, testHandles(t))

	client := NewClient(cfg)
	require.NoError(t, client.Shutdown(context.Background()))

	assert.Eventually(t, func() bool { return !client.IsRunning() }, 5*time.Second, 50*time.Millisecond)
}

func TestReload(t *testing.T) {
	cfg := testConfig(t)

	handles := testHandles(t)
	reloaded := false
	handles.Reload = func() (*Handles, error) {
		reloaded = true
		return testHandles(t), nil
	}
	startServer(t, cfg, handles)

	client := NewClient(cfg)
	require.NoError(t, client.Reload(context.Background()))
	assert.True(t, reloaded)

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.ReloadCount)
}

func TestUnknownMethod(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, testHandles(t))

	client := NewClient(cfg)
	err := client.call(context.Background(), "nonsense", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestClientFallsBackWhenNoDaemon(t *testing.T) {
	cfg := testConfig(t) // nothing listening
	client := NewClient(cfg)

	assert.False(t, client.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Stats(ctx)
	require.Error(t, err)
}
