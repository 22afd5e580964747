package branch

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo is the minimal read-only git interface the core consumes. When
// the project is not a git repository, callers operate without one and
// degrade to the single implicit DefaultBranch.
type Repo struct {
	repo *git.Repository
}

// OpenRepo opens the repository containing root, searching parent
// directories the way the git CLI does. Returns an error when root is
// not inside a work tree.
func OpenRepo(root string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	return &Repo{repo: repo}, nil
}

// CurrentBranch returns the short name of the checked-out branch, or
// the abbreviated commit hash when HEAD is detached.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return head.Hash().String()[:12], nil
}

// CurrentCommit returns the full HEAD commit hash.
func (r *Repo) CurrentCommit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// ListTrackedFiles returns the paths in the HEAD commit tree, sorted.
func (r *Repo) ListTrackedFiles() ([]string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD tree: %w", err)
	}

	var files []string
	err = tree.Files().ForEach(func(f *object.File) error {
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// MergeBase computes the best common ancestor of two refs.
func (r *Repo) MergeBase(a, b string) (string, error) {
	commitA, err := r.resolveCommit(a)
	if err != nil {
		return "", err
	}
	commitB, err := r.resolveCommit(b)
	if err != nil {
		return "", err
	}

	bases, err := commitA.MergeBase(commitB)
	if err != nil {
		return "", fmt.Errorf("merge-base %s %s: %w", a, b, err)
	}
	if len(bases) == 0 {
		return "", fmt.Errorf("no common ancestor between %s and %s", a, b)
	}
	return bases[0].Hash.String(), nil
}

func (r *Repo) resolveCommit(rev string) (*object.Commit, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", rev, err)
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	return commit, nil
}

// DetectBranch returns the current branch of the repository containing
// root, or DefaultBranch when root is not inside one.
func DetectBranch(root string) string {
	repo, err := OpenRepo(root)
	if err != nil {
		return DefaultBranch
	}
	name, err := repo.CurrentBranch()
	if err != nil {
		return DefaultBranch
	}
	return name
}
