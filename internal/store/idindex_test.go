package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestIDIndex(t *testing.T) *idIndex {
	t.Helper()
	idx, err := openIDIndex(filepath.Join(t.TempDir(), "id_index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.close() })
	return idx
}

func TestIDIndex_UpsertAndContains(t *testing.T) {
	idx := newTestIDIndex(t)

	ok, err := idx.contains("c1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, idx.upsert("c1", "main.go", "hash1", "main", time.Now()))

	ok, err = idx.contains("c1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIDIndex_UpsertOverwritesOnConflict(t *testing.T) {
	idx := newTestIDIndex(t)

	require.NoError(t, idx.upsert("c1", "a.go", "h1", "main", time.Now()))
	require.NoError(t, idx.upsert("c1", "b.go", "h2", "main", time.Now()))

	n, err := idx.count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestIDIndex_Delete(t *testing.T) {
	idx := newTestIDIndex(t)
	require.NoError(t, idx.upsert("c1", "a.go", "h1", "main", time.Now()))
	require.NoError(t, idx.delete("c1"))

	ok, err := idx.contains("c1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIDIndex_ScrollPaginatesInOrder(t *testing.T) {
	idx := newTestIDIndex(t)
	ids := []string{"a1", "a2", "a3", "a4", "a5"}
	for _, id := range ids {
		require.NoError(t, idx.upsert(id, "f.go", "h", "main", time.Now()))
	}

	page, err := idx.scroll("", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2"}, page.ChunkIDs)
	require.Equal(t, "a2", page.NextFrom)

	page, err = idx.scroll(page.NextFrom, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a3", "a4"}, page.ChunkIDs)
	require.Equal(t, "a4", page.NextFrom)

	page, err = idx.scroll(page.NextFrom, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a5"}, page.ChunkIDs)
	require.Empty(t, page.NextFrom)
}
