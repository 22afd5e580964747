package branch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func commitFile(t *testing.T, dir string, repo *git.Repository, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com"},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestOpenRepoNotARepo(t *testing.T) {
	_, err := OpenRepo(t.TempDir())
	require.Error(t, err)
}

func TestCurrentBranchAndCommit(t *testing.T) {
	dir, repo := initTestRepo(t)
	hash := commitFile(t, dir, repo, "a.txt", "hello")

	r, err := OpenRepo(dir)
	require.NoError(t, err)

	name, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Contains(t, []string{"master", "main"}, name)

	commit, err := r.CurrentCommit()
	require.NoError(t, err)
	assert.Equal(t, hash, commit)
}

func TestListTrackedFiles(t *testing.T) {
	dir, repo := initTestRepo(t)
	commitFile(t, dir, repo, "src/a.go", "package a")
	commitFile(t, dir, repo, "src/b.go", "package b")

	r, err := OpenRepo(dir)
	require.NoError(t, err)

	files, err := r.ListTrackedFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, files)
}

func TestMergeBase(t *testing.T) {
	dir, repo := initTestRepo(t)
	base := commitFile(t, dir, repo, "base.txt", "base")
	commitFile(t, dir, repo, "tip.txt", "tip")

	r, err := OpenRepo(dir)
	require.NoError(t, err)

	// The merge base of HEAD and its parent is the parent itself.
	got, err := r.MergeBase("HEAD", "HEAD~1")
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestDetectBranchFallsBack(t *testing.T) {
	assert.Equal(t, DefaultBranch, DetectBranch(t.TempDir()))
}

func TestDetectBranchInRepo(t *testing.T) {
	dir, repo := initTestRepo(t)
	commitFile(t, dir, repo, "a.txt", "x")

	name := DetectBranch(dir)
	assert.Contains(t, []string{"master", "main"}, name)
}
