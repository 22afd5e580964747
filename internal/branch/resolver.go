// Package branch is the branch/visibility layer (component C6): it maps
// (path, branch) observations onto the content-addressed chunk sets in
// the vector store, so branches that share file content share physical
// vectors and a branch switch flips visibility rows instead of
// re-embedding anything.
package branch

import (
	"time"

	"github.com/localci/codeindexer/internal/store"
)

// DefaultBranch is the implicit branch used when the project is not a
// git repository.
const DefaultBranch = "default"

// Resolver resolves (path, branch, file_hash) observations against the
// collection's live chunk sets and maintains visibility records.
type Resolver struct {
	col *store.Collection
}

// NewResolver wires a resolver to one collection.
func NewResolver(col *store.Collection) *Resolver {
	return &Resolver{col: col}
}

// Resolve checks whether fileHash already has a live chunk set, from
// any branch. When it does, the existing chunks are marked visible on
// branch and their ids returned with reused=true — the caller skips
// chunking and embedding entirely. Otherwise reused=false and the
// caller indexes the file normally, then calls MarkVisible.
func (r *Resolver) Resolve(path, branch, fileHash string) (reused bool, chunkIDs []string, err error) {
	chunkIDs, err = r.col.ChunkIDsByFileHash(fileHash)
	if err != nil {
		return false, nil, err
	}
	if len(chunkIDs) == 0 {
		return false, nil, nil
	}

	if err := r.MarkVisible(chunkIDs, branch); err != nil {
		return false, nil, err
	}
	return true, chunkIDs, nil
}

// MarkVisible writes visible=true rows for chunkIDs on branch.
func (r *Resolver) MarkVisible(chunkIDs []string, branch string) error {
	now := time.Now().UTC()
	for _, id := range chunkIDs {
		err := r.col.SetVisibility(store.VisibilityRecord{
			ChunkID:   id,
			Branch:    branch,
			Visible:   true,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Hide writes visible=false rows for chunkIDs on branch, used when a
// file leaves a branch without its content disappearing from others.
func (r *Resolver) Hide(chunkIDs []string, branch string) error {
	now := time.Now().UTC()
	for _, id := range chunkIDs {
		err := r.col.SetVisibility(store.VisibilityRecord{
			ChunkID:   id,
			Branch:    branch,
			Visible:   false,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Visible reports whether one chunk participates in queries scoped to
// branch.
func (r *Resolver) Visible(chunkID, branch string) (bool, error) {
	return r.col.Visible(chunkID, branch)
}
