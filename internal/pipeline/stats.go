package pipeline

import (
	"sync"

	"github.com/localci/codeindexer/internal/scanner"
)

// FileFailure records one file that could not be indexed. Per-file
// failures never abort the session.
type FileFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Stats summarizes one indexing session.
type Stats struct {
	Candidates     int           `json:"candidates"`
	Processed      int           `json:"processed"`
	Skipped        int           `json:"skipped"`
	Reused         int           `json:"reused"`
	Failed         int           `json:"failed"`
	Chunks         int           `json:"chunks"`
	EmbeddingCalls int           `json:"embedding_calls"`
	FailedFiles    []FileFailure `json:"failed_files,omitempty"`

	// SkipReasons buckets skipped files: "unchanged" for the resume
	// path, data-error reasons (binary, too-large, empty) otherwise.
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
}

// statsCollector is the concurrency-safe accumulator behind Stats.
type statsCollector struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsCollector() *statsCollector {
	return &statsCollector{stats: Stats{SkipReasons: make(map[string]int)}}
}

func (s *statsCollector) addCandidates(n int) {
	s.mu.Lock()
	s.stats.Candidates += n
	s.mu.Unlock()
}

func (s *statsCollector) processed(chunks int) {
	s.mu.Lock()
	s.stats.Processed++
	s.stats.Chunks += chunks
	s.stats.EmbeddingCalls++
	s.mu.Unlock()
}

func (s *statsCollector) reused() {
	s.mu.Lock()
	s.stats.Reused++
	s.mu.Unlock()
}

func (s *statsCollector) skipped(reason string) {
	s.mu.Lock()
	s.stats.Skipped++
	s.stats.SkipReasons[reason]++
	s.mu.Unlock()
}

func (s *statsCollector) failed(path, reason string) {
	s.mu.Lock()
	s.stats.Failed++
	s.stats.FailedFiles = append(s.stats.FailedFiles, FileFailure{Path: path, Reason: reason})
	s.mu.Unlock()
}

func (s *statsCollector) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// PruneReport summarizes one prune run, bucketed by the filter reason
// that disqualified each path.
type PruneReport struct {
	DryRun        bool                   `json:"dry_run"`
	ScannedPaths  int                    `json:"scanned_paths"`
	RemovedPaths  int                    `json:"removed_paths"`
	RemovedChunks int                    `json:"removed_chunks"`
	BytesSaved    int64                  `json:"bytes_saved"`
	Reasons       map[scanner.Reason]int `json:"reasons"`
	Cancelled     bool                   `json:"cancelled"`
}
