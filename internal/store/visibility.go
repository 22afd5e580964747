package store

import (
	"database/sql"
	"time"
)

// VisibilityRecord marks whether one chunk participates in queries
// scoped to one branch. A single physical vector serves every branch
// whose file content hashes to the same chunk set; switching branches
// flips visibility rows instead of re-embedding.
type VisibilityRecord struct {
	ChunkID   string
	Branch    string
	Visible   bool
	UpdatedAt time.Time
}

// PathEntry summarizes one indexed path for maintenance scans.
type PathEntry struct {
	Path       string
	FileHash   string
	ChunkCount int
}

const visibilitySchema = `
CREATE TABLE IF NOT EXISTS visibility (
	chunk_id   TEXT NOT NULL,
	branch     TEXT NOT NULL,
	visible    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (chunk_id, branch)
);
CREATE INDEX IF NOT EXISTS idx_visibility_branch ON visibility(branch);
`

func (idx *idIndex) setVisibility(rec VisibilityRecord) error {
	visible := 0
	if rec.Visible {
		visible = 1
	}
	_, err := idx.db.Exec(
		`INSERT INTO visibility (chunk_id, branch, visible, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chunk_id, branch) DO UPDATE SET
		   visible=excluded.visible, updated_at=excluded.updated_at`,
		rec.ChunkID, rec.Branch, visible, rec.UpdatedAt.Unix(),
	)
	return err
}

func (idx *idIndex) visibility(chunkID, branch string) (bool, error) {
	var visible int
	err := idx.db.QueryRow(
		`SELECT visible FROM visibility WHERE chunk_id = ? AND branch = ?`,
		chunkID, branch,
	).Scan(&visible)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return visible == 1, nil
}

func (idx *idIndex) deleteVisibility(chunkID string) error {
	_, err := idx.db.Exec(`DELETE FROM visibility WHERE chunk_id = ?`, chunkID)
	return err
}

func (idx *idIndex) branchesForChunk(chunkID string) ([]string, error) {
	rows, err := idx.db.Query(
		`SELECT branch FROM visibility WHERE chunk_id = ? AND visible = 1 ORDER BY branch`,
		chunkID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (idx *idIndex) chunkIDsByFileHash(fileHash string) ([]string, error) {
	rows, err := idx.db.Query(
		`SELECT chunk_id FROM id_index WHERE file_hash = ? ORDER BY chunk_id`,
		fileHash,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (idx *idIndex) chunkIDsByPath(path string) ([]string, error) {
	rows, err := idx.db.Query(
		`SELECT chunk_id FROM id_index WHERE path = ? ORDER BY chunk_id`,
		path,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (idx *idIndex) hasFile(path, fileHash string) (bool, error) {
	var one int
	err := idx.db.QueryRow(
		`SELECT 1 FROM id_index WHERE path = ? AND file_hash = ? LIMIT 1`,
		path, fileHash,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (idx *idIndex) listPaths() ([]PathEntry, error) {
	rows, err := idx.db.Query(
		`SELECT path, file_hash, COUNT(*) FROM id_index GROUP BY path, file_hash ORDER BY path`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PathEntry
	for rows.Next() {
		var e PathEntry
		if err := rows.Scan(&e.Path, &e.FileHash, &e.ChunkCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetVisibility writes one branch-visibility row for a chunk.
func (c *Collection) SetVisibility(rec VisibilityRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return c.idIdx.setVisibility(rec)
}

// Visible reports whether chunkID is visible on branch.
func (c *Collection) Visible(chunkID, branch string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idIdx.visibility(chunkID, branch)
}

// VisibleBranches lists the branches a chunk is visible on.
func (c *Collection) VisibleBranches(chunkID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idIdx.branchesForChunk(chunkID)
}

// ChunkIDsByFileHash returns the live chunk set derived from a file
// content hash, in chunk_id order.
func (c *Collection) ChunkIDsByFileHash(fileHash string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idIdx.chunkIDsByFileHash(fileHash)
}

// ChunkIDsByPath returns every live chunk_id recorded for path.
func (c *Collection) ChunkIDsByPath(path string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idIdx.chunkIDsByPath(path)
}

// HasFile reports whether (path, fileHash) already has a live chunk
// set — the indexing resume check.
func (c *Collection) HasFile(path, fileHash string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idIdx.hasFile(path, fileHash)
}

// ListPaths enumerates every indexed (path, file_hash) pair with its
// chunk count, for prune and status scans.
func (c *Collection) ListPaths() ([]PathEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idIdx.listPaths()
}
