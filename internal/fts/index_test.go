package fts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("", Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seedDocs(t *testing.T, idx *Index) {
	t.Helper()
	docs := []Document{
		{
			Path:        "src/auth.py",
			Content:     "def login(user, password):\n    return authenticate(user, password)",
			ContentRaw:  "def login(user, password):\n    return authenticate(user, password)",
			Identifiers: "login authenticate user password",
			LineStart:   1,
			LineEnd:     2,
			Language:    "python",
			ChunkIndex:  0,
		},
		{
			Path:        "src/db.go",
			Content:     "func OpenDatabase(dsn string) (*DB, error) {\n\treturn sql.Open(dsn)\n}",
			ContentRaw:  "func OpenDatabase(dsn string) (*DB, error) {\n\treturn sql.Open(dsn)\n}",
			Identifiers: "OpenDatabase DB sql Open dsn",
			LineStart:   10,
			LineEnd:     12,
			Language:    "go",
			ChunkIndex:  0,
		},
		{
			Path:        "tests/test_db.py",
			Content:     "def test_database_roundtrip():\n    db = open_database()",
			ContentRaw:  "def test_database_roundtrip():\n    db = open_database()",
			Identifiers: "test_database_roundtrip open_database db",
			LineStart:   1,
			LineEnd:     2,
			Language:    "python",
			ChunkIndex:  0,
		},
	}
	require.NoError(t, idx.IndexBatch(context.Background(), docs))
}

func TestSearchTokenized(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "login", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "src/auth.py", results[0].Path)
	assert.Equal(t, "python", results[0].Language)
	assert.Equal(t, 1, results[0].LineStart)
}

func TestSearchCamelCaseDecomposition(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	// "database" appears only as part of OpenDatabase / open_database /
	// test_database_roundtrip; the code analyzer decomposes all three.
	results, err := idx.Search(context.Background(), "database", SearchOptions{Limit: 10})
	require.NoError(t, err)
	paths := resultPaths(results)
	assert.Contains(t, paths, "src/db.go")
	assert.Contains(t, paths, "tests/test_db.py")
}

func TestSearchLanguageFilter(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "database", SearchOptions{
		Limit:    10,
		Language: "go",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "go", r.Language)
	}

	results, err = idx.Search(context.Background(), "database", SearchOptions{
		Limit:           10,
		ExcludeLanguage: "go",
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "go", r.Language)
	}
}

func TestSearchPathExclusion(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "database", SearchOptions{
		Limit:        10,
		ExcludePaths: []string{"tests/*"},
	})
	require.NoError(t, err)
	paths := resultPaths(results)
	assert.Contains(t, paths, "src/db.go")
	assert.NotContains(t, paths, "tests/test_db.py")
}

func TestSearchPathFilter(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "database", SearchOptions{
		Limit:       10,
		PathFilters: []string{"src/**"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Contains(t, r.Path, "src/")
	}
}

func TestSearchFuzzy(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "lgin", SearchOptions{
		Limit:        10,
		Fuzzy:        true,
		EditDistance: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "src/auth.py", results[0].Path)
}

func TestSearchRegex(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "auth.*", SearchOptions{
		Limit: 10,
		Regex: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "src/auth.py", results[0].Path)
}

func TestSearchRegexInvalidPattern(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	_, err := idx.Search(context.Background(), "[unclosed", SearchOptions{
		Limit: 10,
		Regex: true,
	})
	require.Error(t, err)
}

func TestSearchCaseSensitive(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.IndexBatch(context.Background(), []Document{{
		Path:       "src/handler.go",
		Content:    "func Login() {}",
		ContentRaw: "func Login() {}",
		Language:   "go",
		ChunkIndex: 0,
	}}))

	// Lowercase query with case sensitivity on: the analyzed index
	// matches, but the raw content only has "Login".
	results, err := idx.Search(context.Background(), "login", SearchOptions{
		Limit:         10,
		CaseSensitive: true,
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(context.Background(), "Login", SearchOptions{
		Limit:         10,
		CaseSensitive: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestSearchEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "   ", SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSnippet(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	results, err := idx.Search(context.Background(), "login", SearchOptions{
		Limit:        10,
		SnippetLines: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Snippet, "login")
}

func TestUpdatePathReplacesDocuments(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	err := idx.UpdatePath(context.Background(), "src/auth.py", []Document{{
		Path:       "src/auth.py",
		Content:    "def logout(user):\n    pass",
		ContentRaw: "def logout(user):\n    pass",
		Language:   "python",
		ChunkIndex: 0,
	}})
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), "login", SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(context.Background(), "logout", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "src/auth.py", results[0].Path)
}

func TestDeleteByPath(t *testing.T) {
	idx := newTestIndex(t)
	seedDocs(t, idx)

	before, err := idx.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(3), before)

	require.NoError(t, idx.DeleteByPath(context.Background(), "src/auth.py"))

	after, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), after)
}

func TestOpenOnDiskAndReopen(t *testing.T) {
	dir := t.TempDir() + "/fts_index"

	idx, err := Open(dir, Config{})
	require.NoError(t, err)
	seedDocs(t, idx)
	require.NoError(t, idx.Close())

	reopened, err := Open(dir, Config{})
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func resultPaths(results []Result) []string {
	paths := make([]string, 0, len(results))
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	return paths
}
