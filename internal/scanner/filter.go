package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/gitignore"
	"github.com/localci/codeindexer/internal/globmatch"
)

// gitignoreCacheSize bounds the number of parsed .gitignore matchers
// held by one filter, so long-lived processes do not grow without
// bound on trees with many nested ignore files.
const gitignoreCacheSize = 1000

// Filter is the file-filtering predicate shared by the scan walk,
// watch mode, and prune. It evaluates a path against the configured
// rules in the fixed precedence order and reports which rule fired.
type Filter struct {
	root             string
	extensions       map[string]bool
	excludeDirs      []string
	maxFileSize      int64
	forceInclude     []string
	forceExclude     []string
	respectGitignore bool

	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// NewFilter builds a filter rooted at root from the project config.
// respectGitignore should be true when the project is a git work tree.
func NewFilter(root string, cfg *config.Config, respectGitignore bool) (*Filter, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, err
	}

	maxSize := cfg.Filters.MaxFileSize
	if maxSize <= 0 {
		maxSize = config.Default().Filters.MaxFileSize
	}

	return &Filter{
		root:             root,
		extensions:       cfg.EffectiveExtensions(),
		excludeDirs:      cfg.Filters.ExcludeDirs,
		maxFileSize:      maxSize,
		forceInclude:     cfg.Filters.ForceIncludePatterns,
		forceExclude:     cfg.Filters.ForceExcludePatterns,
		respectGitignore: respectGitignore,
		gitignoreCache:   cache,
	}, nil
}

// MaxFileSize reports the effective size limit.
func (f *Filter) MaxFileSize() int64 {
	return f.maxFileSize
}

// ExcludeDir reports whether the walk should skip a directory.
// Force-excludes apply to directories too; force-includes do not
// resurrect a directory (they are file-level overrides).
func (f *Filter) ExcludeDir(relPath string) bool {
	if globmatch.MatchAny(f.forceExclude, relPath) {
		return true
	}
	for _, dir := range f.excludeDirs {
		if matchDirComponent(relPath, dir) {
			return true
		}
	}
	if f.respectGitignore && f.isGitignored(relPath, true) {
		return true
	}
	return false
}

// Evaluate classifies a candidate file. size < 0 means "stat the file",
// letting prune detect paths that have disappeared from disk.
func (f *Filter) Evaluate(relPath string, size int64) Reason {
	// force_exclude beats everything, including force_include.
	if globmatch.MatchAny(f.forceExclude, relPath) {
		return ReasonOverrideExclude
	}

	if size < 0 {
		info, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(relPath)))
		if err != nil {
			return ReasonMissing
		}
		size = info.Size()
	}

	// force_include beats every base rule.
	if globmatch.MatchAny(f.forceInclude, relPath) {
		return ReasonOK
	}

	if size > f.maxFileSize {
		return ReasonOversize
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(relPath), "."))
	if !f.extensions[ext] {
		return ReasonExtension
	}

	for _, dir := range f.excludeDirs {
		if matchDirComponent(filepath.Dir(relPath), dir) {
			return ReasonDirectory
		}
	}

	if f.respectGitignore && f.isGitignored(relPath, false) {
		return ReasonGitignored
	}

	if f.isBinaryFile(filepath.Join(f.root, filepath.FromSlash(relPath))) {
		return ReasonBinary
	}

	return ReasonOK
}

// matchDirComponent reports whether any path component of relPath
// equals dir, or relPath matches dir as a glob.
func matchDirComponent(relPath, dir string) bool {
	if relPath == "." || relPath == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part == dir {
			return true
		}
		if ok, err := filepath.Match(dir, part); err == nil && ok {
			return true
		}
	}
	return false
}

// isBinaryFile sniffs the file head for null bytes.
func (f *Filter) isBinaryFile(absPath string) bool {
	file, err := os.Open(absPath)
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

// isGitignored checks relPath against the root .gitignore and every
// nested .gitignore on the way down to it.
func (f *Filter) isGitignored(relPath string, isDir bool) bool {
	if m := f.matcherFor(f.root, ""); m != nil && m.Match(relPath, isDir) {
		return true
	}

	dir := filepath.Dir(relPath)
	if dir == "." {
		return false
	}

	currentDir := f.root
	currentBase := ""
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = currentBase + "/" + part
		}
		if m := f.matcherFor(currentDir, currentBase); m != nil && m.Match(relPath, isDir) {
			return true
		}
	}
	return false
}

// matcherFor returns the cached matcher for dir's .gitignore, or nil
// when dir has none.
func (f *Filter) matcherFor(dir, base string) *gitignore.Matcher {
	f.cacheMu.RLock()
	matcher, ok := f.gitignoreCache.Get(dir)
	f.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	f.cacheMu.Lock()
	f.gitignoreCache.Add(dir, matcher)
	f.cacheMu.Unlock()

	return matcher
}

// InvalidateGitignoreCache drops cached matchers; watch mode calls it
// when a .gitignore changes.
func (f *Filter) InvalidateGitignoreCache() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.gitignoreCache.Purge()
}
