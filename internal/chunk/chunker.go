package chunk

import (
	"bytes"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/localci/codeindexer/internal/cerrors"
)

// Sentinel errors surfaced by ChunkPath/ChunkBytes.
var (
	ErrUnreadable = cerrors.New(cerrors.CodeChunkUnreadable, "file could not be read", nil)
	ErrBinary     = cerrors.New(cerrors.CodeChunkBinary, "file classified as binary", nil)
	ErrTooLarge   = cerrors.New(cerrors.CodeChunkTooLarge, "file exceeds max_file_size", nil)
	ErrEmpty      = cerrors.New(cerrors.CodeChunkEmpty, "file produced no chunks", nil)
)

// binarySniffLen is how much of the file head is inspected for binary
// content.
const binarySniffLen = 8 * 1024

// Chunker splits file content into fixed-size overlapping spans.
//
// Guarantees: every byte of the file appears in at least one chunk;
// adjacent chunks overlap by exactly OverlapBytes (except the final
// chunk, which may be shorter); output is deterministic for a given
// (content, ChunkerVersion, MaxBytes, OverlapBytes).
type Chunker struct {
	opts Options
	reg  *LanguageRegistry
}

// New creates a Chunker. A zero Options uses package defaults.
func New(opts Options) (*Chunker, error) {
	opts = opts.WithDefaults()
	if opts.OverlapBytes >= opts.MaxBytes/2 {
		return nil, fmt.Errorf("chunk: overlap %d must be < MaxBytes/2 (%d)", opts.OverlapBytes, opts.MaxBytes/2)
	}
	return &Chunker{opts: opts, reg: DefaultLanguageRegistry()}, nil
}

// ChunkPath reads path from disk and chunks it.
func (c *Chunker) ChunkPath(path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.Size() > c.opts.MaxFileSize {
		return Result{}, fmt.Errorf("%w: %d bytes > max %d", ErrTooLarge, info.Size(), c.opts.MaxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return c.ChunkBytes(path, content)
}

// ChunkBytes chunks in-memory content. path is used only to detect the
// file's language facet from its extension.
func (c *Chunker) ChunkBytes(path string, content []byte) (Result, error) {
	if len(content) == 0 {
		return Result{}, ErrEmpty
	}
	if isBinary(content) {
		return Result{}, ErrBinary
	}

	fileHash := FileHash(content)
	language := c.reg.Detect(path)

	lineStarts := computeLineStarts(content)

	var chunks []Chunk
	step := c.opts.MaxBytes - c.opts.OverlapBytes
	n := len(content)
	for start, index := 0, 0; start < n; start, index = start+step, index+1 {
		end := start + c.opts.MaxBytes
		if end > n {
			end = n
		}

		lineStart := lineForOffset(lineStarts, start)
		lineEnd := lineForOffset(lineStarts, end-1)

		chunks = append(chunks, Chunk{
			ID:         ChunkID(fileHash, index, c.opts.ChunkerVersion),
			FileHash:   fileHash,
			ChunkIndex: index,
			ByteStart:  start,
			ByteEnd:    end,
			LineStart:  lineStart,
			LineEnd:    lineEnd,
			Text:       string(content[start:end]),
			Language:   language,
		})

		if end == n {
			break
		}
	}

	if len(chunks) == 0 {
		return Result{}, ErrEmpty
	}

	return Result{Chunks: chunks, FileHash: fileHash}, nil
}

// isBinary classifies content as binary by null-byte density / UTF-8
// validity over the first 8 KiB of the file.
func isBinary(content []byte) bool {
	head := content
	if len(head) > binarySniffLen {
		head = head[:binarySniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	return !utf8.Valid(head)
}

// computeLineStarts returns the byte offset of the start of each line;
// lineStarts[0] == 0.
func computeLineStarts(content []byte) []int {
	starts := []int{0}
	for i, b := range content {
		if b == '\n' && i+1 < len(content) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineForOffset returns the 1-indexed line number containing byte offset.
func lineForOffset(lineStarts []int, offset int) int {
	lo, hi := 0, len(lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}
