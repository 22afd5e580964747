package store

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// hnswIndex wraps coder/hnsw's pure-Go graph with a chunk_id<->label
// mapping. Deletes are lazy (soft): the node stays in the graph but is
// unreachable from any id, avoiding a coder/hnsw bug where deleting the
// last remaining node corrupts the graph. A chunk_id that is re-added
// after being deleted gets a brand-new label; labels are never reused
// for a different chunk_id once freed, so no stale external reference
// can resolve to the wrong vector.
type hnswIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dim   int

	idToLabel map[string]uint64
	labelToID map[uint64]string
	nextLabel uint64

	closed bool
}

// hnswSidecar is the JSON-serializable mapping state persisted next to
// the gob-encoded graph export.
type hnswSidecar struct {
	IDToLabel  map[string]uint64 `json:"id_to_label"`
	LabelToID  map[uint64]string `json:"label_to_id"`
	NextLabel  uint64            `json:"next_label"`
	VectorCnt  int               `json:"vector_count"`
	Dimensions int               `json:"dimensions"`
	IsStale    bool              `json:"is_stale"`
}

func newHNSWIndex(dim, m, efSearch int) *hnswIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if m <= 0 {
		m = 16
	}
	if efSearch <= 0 {
		efSearch = 96
	}
	graph.M = m
	graph.EfSearch = efSearch
	graph.Ml = 0.25

	return &hnswIndex{
		graph:     graph,
		dim:       dim,
		idToLabel: make(map[string]uint64),
		labelToID: make(map[uint64]string),
	}
}

// upsert inserts or replaces chunk_id's vector. A replace frees the old
// label via soft delete and assigns a fresh one.
func (h *hnswIndex) upsert(chunkID string, vec []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("hnsw index is closed")
	}
	if len(vec) != h.dim {
		return ErrDimensionMismatch
	}

	if oldLabel, exists := h.idToLabel[chunkID]; exists {
		delete(h.labelToID, oldLabel)
		delete(h.idToLabel, chunkID)
	}

	label := h.nextLabel
	h.nextLabel++

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	h.graph.Add(hnsw.MakeNode(label, normalized))
	h.idToLabel[chunkID] = label
	h.labelToID[label] = chunkID
	return nil
}

// softDelete unlinks chunk_id from the graph without removing its node,
// so the node count (and any in-flight search iterators) stay stable.
func (h *hnswIndex) softDelete(chunkID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if label, exists := h.idToLabel[chunkID]; exists {
		delete(h.labelToID, label)
		delete(h.idToLabel, chunkID)
	}
}

func (h *hnswIndex) search(query []float32, k, efSearch int) ([]SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, fmt.Errorf("hnsw index is closed")
	}
	if len(query) != h.dim {
		return nil, ErrDimensionMismatch
	}
	if h.graph.Len() == 0 {
		return nil, nil
	}

	if efSearch > 0 {
		h.graph.EfSearch = efSearch
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := h.graph.Search(normalized, k)
	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.labelToID[node.Key]
		if !ok {
			continue // soft-deleted node, skip
		}
		dist := h.graph.Distance(normalized, node.Value)
		results = append(results, SearchResult{
			ChunkID:  id,
			Distance: dist,
			Score:    1.0 - dist/2.0,
		})
	}
	return results, nil
}

func (h *hnswIndex) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToLabel)
}

func (h *hnswIndex) contains(chunkID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.idToLabel[chunkID]
	return ok
}

// save writes the graph export to graphPath and the sidecar mapping to
// metaPath, both atomically.
func (h *hnswIndex) save(graphPath, metaPath string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(graphPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmpGraph := graphPath + ".tmp"
	gf, err := os.Create(tmpGraph)
	if err != nil {
		return fmt.Errorf("create graph temp: %w", err)
	}
	if err := h.graph.Export(gf); err != nil {
		gf.Close()
		os.Remove(tmpGraph)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := gf.Close(); err != nil {
		os.Remove(tmpGraph)
		return fmt.Errorf("close graph temp: %w", err)
	}
	if err := os.Rename(tmpGraph, graphPath); err != nil {
		os.Remove(tmpGraph)
		return fmt.Errorf("rename graph: %w", err)
	}

	sidecar := hnswSidecar{
		IDToLabel:  h.idToLabel,
		LabelToID:  h.labelToID,
		NextLabel:  h.nextLabel,
		VectorCnt:  len(h.idToLabel),
		Dimensions: h.dim,
	}
	return writeJSONAtomic(metaPath, sidecar)
}

// load reads the graph export from graphPath and the sidecar mapping
// from metaPath.
func (h *hnswIndex) load(graphPath, metaPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sidecar hnswSidecar
	if err := readJSON(metaPath, &sidecar); err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}

	f, err := os.Open(graphPath)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	if err := h.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	h.idToLabel = sidecar.IDToLabel
	h.labelToID = sidecar.LabelToID
	h.nextLabel = sidecar.NextLabel
	h.dim = sidecar.Dimensions
	return nil
}

func (h *hnswIndex) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
