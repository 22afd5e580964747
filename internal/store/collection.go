package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/localci/codeindexer/internal/globmatch"
)

func graphFilePath(dir string) string { return filepath.Join(dir, "hnsw.bin") }
func graphMetaPath(dir string) string { return filepath.Join(dir, "hnsw_meta.json") }

// changeSet tracks chunk_ids touched during one indexing session,
// reset by BeginIndexing and cleared by EndIndexing.
type changeSet struct {
	added   map[string]struct{}
	updated map[string]struct{}
	deleted map[string]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		added:   make(map[string]struct{}),
		updated: make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

func (c *changeSet) empty() bool {
	return len(c.added) == 0 && len(c.updated) == 0 && len(c.deleted) == 0
}

// Collection is one on-disk vector collection: sharded vector/payload
// files, a SQLite id_index, an optional HNSW overlay, and a manifest.
type Collection struct {
	dir string

	mu       sync.RWMutex
	manifest Manifest
	idIdx    *idIndex

	hnsw       *hnswIndex
	hnswExists bool
	hnswStale  bool

	lock    *SessionLock
	session *changeSet
}

// CreateCollection initializes a fresh collection directory.
func CreateCollection(dir, model string, dimensions int) (*Collection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir collection: %w", err)
	}
	m, err := createManifest(dir, model, dimensions)
	if err != nil {
		return nil, err
	}
	idx, err := openIDIndex(filepath.Join(dir, "id_index.db"))
	if err != nil {
		return nil, err
	}
	return &Collection{dir: dir, manifest: m, idIdx: idx}, nil
}

// OpenCollection opens an existing collection directory, loading the
// HNSW overlay if present.
func OpenCollection(dir string) (*Collection, error) {
	m, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	idx, err := openIDIndex(filepath.Join(dir, "id_index.db"))
	if err != nil {
		return nil, err
	}

	c := &Collection{dir: dir, manifest: m, idIdx: idx}

	if _, err := os.Stat(graphFilePath(dir)); err == nil {
		h := newHNSWIndex(m.Dimensions, 16, 96)
		if err := h.load(graphFilePath(dir), graphMetaPath(dir)); err != nil {
			idx.close()
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		var sidecar hnswSidecar
		_ = readJSON(graphMetaPath(dir), &sidecar)
		c.hnsw = h
		c.hnswExists = true
		c.hnswStale = sidecar.IsStale
	}

	return c, nil
}

// BeginIndexing acquires the collection's non-blocking session lock
// and resets the per-session change tracker. Calling it twice within
// the same live session (lock already held by this Collection) is a
// no-op; a second process attempting it fails with ErrConcurrentWrite.
func (c *Collection) BeginIndexing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock != nil {
		if c.session == nil {
			c.session = newChangeSet()
		}
		return nil
	}

	lock := NewSessionLock(c.dir)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return ErrConcurrentWrite
	}
	c.lock = lock
	c.session = newChangeSet()
	return nil
}

// Upsert validates dimension, writes the vector and payload files
// atomically, updates the id_index, and classifies the chunk as
// added or updated in the session tracker. When watchMode is true the
// HNSW overlay is updated immediately rather than deferred to
// EndIndexing.
func (c *Collection) Upsert(rec Record, watchMode bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(rec.Vector) != c.manifest.Dimensions {
		return ErrDimensionMismatch
	}
	if c.session == nil {
		return fmt.Errorf("upsert called outside an indexing session")
	}

	existed, err := c.idIdx.contains(rec.ChunkID)
	if err != nil {
		return fmt.Errorf("id_index lookup: %w", err)
	}

	if err := writeVectorFile(vectorPath(c.dir, rec.ChunkID), rec.Vector); err != nil {
		return fmt.Errorf("%w: write vector: %v", ErrStoreIOError, err)
	}
	if rec.AddedAt.IsZero() {
		rec.AddedAt = time.Now().UTC()
	}
	if err := writePayload(payloadPath(c.dir, rec.ChunkID), payloadFromRecord(rec)); err != nil {
		return fmt.Errorf("%w: write payload: %v", ErrStoreIOError, err)
	}
	if err := c.idIdx.upsert(rec.ChunkID, rec.Path, rec.FileHash, rec.Branch, rec.AddedAt); err != nil {
		return fmt.Errorf("id_index upsert: %w", err)
	}

	if existed {
		c.session.updated[rec.ChunkID] = struct{}{}
	} else {
		c.session.added[rec.ChunkID] = struct{}{}
	}

	if watchMode {
		c.ensureHNSW()
		if err := c.hnsw.upsert(rec.ChunkID, rec.Vector); err != nil {
			return err
		}
	}
	return nil
}

// Delete records chunk_ids as removed and soft-deletes their HNSW
// labels. Vector and payload files are unlinked immediately; id_index
// rows are removed so Scroll never surfaces a deleted chunk.
func (c *Collection) Delete(chunkIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return fmt.Errorf("delete called outside an indexing session")
	}

	for _, id := range chunkIDs {
		if err := c.idIdx.delete(id); err != nil {
			return fmt.Errorf("id_index delete: %w", err)
		}
		if err := c.idIdx.deleteVisibility(id); err != nil {
			return fmt.Errorf("visibility delete: %w", err)
		}
		_ = os.Remove(vectorPath(c.dir, id))
		_ = os.Remove(payloadPath(c.dir, id))

		delete(c.session.added, id)
		delete(c.session.updated, id)
		c.session.deleted[id] = struct{}{}

		if c.hnsw != nil {
			c.hnsw.softDelete(id)
		}
	}
	return nil
}

func (c *Collection) ensureHNSW() {
	if c.hnsw == nil {
		c.hnsw = newHNSWIndex(c.manifest.Dimensions, 16, 96)
		c.hnswExists = true
	}
}

// EndIndexing applies the auto-detected HNSW maintenance action,
// persists the overlay and manifest, and clears the session tracker
// and lock.
func (c *Collection) EndIndexing(skipHNSW bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return fmt.Errorf("end_indexing called outside an indexing session")
	}

	changesPresent := !c.session.empty()
	action := decideHNSWAction(changesPresent, c.hnswExists, skipHNSW)

	switch action {
	case hnswActionRebuild:
		if err := c.rebuildHNSWLocked(); err != nil {
			return err
		}
		c.hnswStale = false
	case hnswActionIncr:
		if err := c.applyIncrementalLocked(); err != nil {
			return err
		}
		c.hnswStale = false
	case hnswActionMarkStale:
		c.hnswStale = true
	case hnswActionNone:
		// nothing to do
	}

	if c.hnsw != nil {
		if err := c.hnsw.save(graphFilePath(c.dir), graphMetaPath(c.dir)); err != nil {
			return fmt.Errorf("save hnsw: %w", err)
		}
		c.writeStaleFlag()
	}

	if err := touchManifest(c.dir, c.manifest); err != nil {
		return fmt.Errorf("touch manifest: %w", err)
	}

	c.session = nil
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil {
			return fmt.Errorf("release session lock: %w", err)
		}
		c.lock = nil
	}
	return nil
}

// applyIncrementalLocked adds/re-adds every added or updated chunk_id
// at a vector read back from disk and soft-deletes every removed one.
// Callers hold c.mu.
func (c *Collection) applyIncrementalLocked() error {
	c.ensureHNSW()
	for id := range c.session.added {
		if err := c.upsertHNSWFromDisk(id); err != nil {
			return err
		}
	}
	for id := range c.session.updated {
		if err := c.upsertHNSWFromDisk(id); err != nil {
			return err
		}
	}
	for id := range c.session.deleted {
		c.hnsw.softDelete(id)
	}
	return nil
}

func (c *Collection) upsertHNSWFromDisk(chunkID string) error {
	data, err := os.ReadFile(vectorPath(c.dir, chunkID))
	if err != nil {
		return fmt.Errorf("%w: read vector for hnsw update: %v", ErrStoreIOError, err)
	}
	vec, err := decodeVectorFile(data)
	if err != nil {
		return err
	}
	return c.hnsw.upsert(chunkID, vec)
}

// rebuildHNSWLocked discards any existing overlay and rebuilds it from
// every live chunk_id in the id_index. Callers hold c.mu.
func (c *Collection) rebuildHNSWLocked() error {
	ids, err := c.idIdx.allChunkIDs()
	if err != nil {
		return fmt.Errorf("list chunk ids: %w", err)
	}
	c.hnsw = newHNSWIndex(c.manifest.Dimensions, 16, 96)
	c.hnswExists = true
	for _, id := range ids {
		if err := c.upsertHNSWFromDisk(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) writeStaleFlag() {
	meta := hnswSidecar{IsStale: c.hnswStale}
	_ = readJSON(graphMetaPath(c.dir), &meta) // best effort merge of existing sidecar
	meta.IsStale = c.hnswStale
	_ = writeJSONAtomic(graphMetaPath(c.dir), meta)
}

// Search runs an approximate nearest-neighbor search when a fresh HNSW
// overlay is available, otherwise falls back to a brute-force scan
// over the live vector set. must/must_not filters are applied
// post-retrieval as path globs.
func (c *Collection) Search(query []float32, opts SearchOptions) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(query) != c.manifest.Dimensions {
		return nil, ErrDimensionMismatch
	}

	var results []SearchResult
	var err error
	if c.hnsw != nil && !c.hnswStale {
		results, err = c.hnsw.search(query, opts.K, opts.EfSearch)
	} else {
		results, err = c.bruteForceSearchLocked(query, opts.K)
	}
	if err != nil {
		return nil, err
	}

	filtered := make([]SearchResult, 0, len(results))
	for _, r := range results {
		p, perr := readPayload(payloadPath(c.dir, r.ChunkID))
		if perr != nil {
			continue // payload missing/corrupt: skip rather than fail the whole search
		}
		if len(opts.Filter.Must) > 0 && !globmatch.MatchAny(opts.Filter.Must, p.Path) {
			continue
		}
		if len(opts.Filter.MustNot) > 0 && globmatch.MatchAny(opts.Filter.MustNot, p.Path) {
			continue
		}
		r.Record = p.toRecord(nil)
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func (c *Collection) bruteForceSearchLocked(query []float32, k int) ([]SearchResult, error) {
	ids, err := c.idIdx.allChunkIDs()
	if err != nil {
		return nil, err
	}

	scored := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(vectorPath(c.dir, id))
		if err != nil {
			continue
		}
		vec, err := decodeVectorFile(data)
		if err != nil {
			continue
		}
		dist := cosineDistance(query, vec)
		scored = append(scored, SearchResult{
			ChunkID:  id,
			Distance: dist,
			Score:    1.0 - dist/2.0,
		})
	}

	sortResultsByScoreDesc(scored)
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Scroll returns a keyset-paginated page of chunk_ids for maintenance
// operations like prune and compaction.
func (c *Collection) Scroll(from string, limit int) (ScrollPage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit <= 0 {
		limit = 1000
	}
	return c.idIdx.scroll(from, limit)
}

// Close releases the id_index connection and any held session lock.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock != nil {
		_ = c.lock.Unlock()
		c.lock = nil
	}
	if c.hnsw != nil {
		_ = c.hnsw.close()
	}
	return c.idIdx.close()
}

// Dimensions reports the collection's fixed vector width.
func (c *Collection) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manifest.Dimensions
}

// RebuildHNSW rebuilds the overlay from every live vector record and
// clears the stale flag left by a deferred (skip_hnsw) session. It
// takes the session lock for its duration, so it cannot race an
// indexing session.
func (c *Collection) RebuildHNSW() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock != nil {
		return fmt.Errorf("rebuild requested during an active indexing session")
	}
	lock := NewSessionLock(c.dir)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return ErrConcurrentWrite
	}
	defer func() { _ = lock.Unlock() }()

	if err := c.rebuildHNSWLocked(); err != nil {
		return err
	}
	c.hnswStale = false
	if err := c.hnsw.save(graphFilePath(c.dir), graphMetaPath(c.dir)); err != nil {
		return fmt.Errorf("save hnsw: %w", err)
	}
	c.writeStaleFlag()
	return touchManifest(c.dir, c.manifest)
}

// HNSWStale reports whether the overlay was deferred (skip_hnsw) and
// queries are currently falling back to brute-force scans.
func (c *Collection) HNSWStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hnswStale
}

// Count reports the number of live chunk_ids in the id_index.
func (c *Collection) Count() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idIdx.count()
}
