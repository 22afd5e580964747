package store

import (
	"time"

	"github.com/localci/codeindexer/internal/cerrors"
)

// Sentinel errors surfaced by Collection operations.
var (
	ErrDimensionMismatch  = cerrors.New(cerrors.CodeStoreDimensionMismatch, "vector dimension does not match collection", nil)
	ErrCorrupt            = cerrors.New(cerrors.CodeStoreCorrupt, "collection data is corrupt", nil)
	ErrConcurrentWrite    = cerrors.New(cerrors.CodeStoreConcurrentWrite, "another indexing session holds the collection lock", nil)
	ErrCollectionNotFound = cerrors.New(cerrors.CodeQueryCollectionMissing, "collection not found", nil)
	ErrStoreIOError       = cerrors.New(cerrors.CodeStoreIOError, "collection io error", nil)
)

// Record is one chunk's vector plus the payload needed to render and
// filter a search hit, keyed by its content-addressed chunk id.
type Record struct {
	ChunkID    string
	Vector     []float32
	Path       string
	FileHash   string
	ChunkIndex int
	ByteStart  int
	ByteEnd    int
	LineStart  int
	LineEnd    int
	Language   string
	Branch     string
	AddedAt    time.Time
	FileMTime  time.Time
}

// SearchFilter restricts results by glob patterns over the payload
// path, evaluated post-retrieval against the HNSW candidate set.
type SearchFilter struct {
	Must    []string
	MustNot []string
}

// SearchOptions configures a semantic search.
type SearchOptions struct {
	K        int
	EfSearch int
	Filter   SearchFilter
}

// SearchResult is one ranked semantic hit.
type SearchResult struct {
	ChunkID  string
	Distance float32
	Score    float32
	Record   Record
}

// Manifest is the collection's schema/version record, persisted as
// manifest.json.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	Model         string    `json:"model"`
	Dimensions    int       `json:"dimensions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CurrentSchemaVersion is the on-disk manifest schema version this
// build writes and expects to read.
const CurrentSchemaVersion = 1

// ScrollPage is one page of a keyset-paginated chunk_id scroll.
type ScrollPage struct {
	ChunkIDs []string
	NextFrom string // empty when there are no further pages
}
