package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/localci/codeindexer/internal/chunk"
)

// Scanner streams candidate files from a project tree through a Filter.
type Scanner struct {
	filter *Filter
	langs  *chunk.LanguageRegistry
}

// New creates a Scanner over one filter.
func New(filter *Filter) *Scanner {
	return &Scanner{
		filter: filter,
		langs:  chunk.DefaultLanguageRegistry(),
	}
}

// Scan walks the tree rooted at the filter's root, streaming every
// file that passes filtering. The channel closes when the walk ends;
// a walk-level failure arrives as a final ScanResult with Error set.
func (s *Scanner) Scan(ctx context.Context) (<-chan ScanResult, error) {
	absRoot, err := filepath.Abs(s.filter.root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, results)
	}()

	return results, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, results chan<- ScanResult) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if s.filter.ExcludeDir(relPath) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks are never followed.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if s.filter.Evaluate(relPath, info.Size()) != ReasonOK {
			return nil
		}

		fileInfo := &FileInfo{
			Path:     relPath,
			AbsPath:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: s.langs.Detect(relPath),
		}

		select {
		case results <- ScanResult{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		default:
		}
	}
}
