package store

import (
	"math"
	"sort"
)

// cosineDistance matches coder/hnsw's CosineDistance so the brute-force
// fallback path ranks identically to the HNSW path it stands in for.
func cosineDistance(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1 - cos)
}

// sortResultsByScoreDesc orders results by descending score with
// deterministic tie-breaking on chunk_id.
func sortResultsByScoreDesc(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
