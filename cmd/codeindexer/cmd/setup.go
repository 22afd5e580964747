package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/localci/codeindexer/internal/branch"
	"github.com/localci/codeindexer/internal/config"
	"github.com/localci/codeindexer/internal/embed"
	"github.com/localci/codeindexer/internal/fts"
	"github.com/localci/codeindexer/internal/pipeline"
	"github.com/localci/codeindexer/internal/query"
	"github.com/localci/codeindexer/internal/scanner"
	"github.com/localci/codeindexer/internal/store"
)

// defaultCollection is the collection name for a project; one project
// maps to one collection per embedding model.
const defaultCollection = "default"

func collectionDir(root string) string {
	return filepath.Join(config.Dir(root), "collections", defaultCollection)
}

func ftsDir(root string) string {
	return filepath.Join(config.Dir(root), "fts_index")
}

// core bundles the wired components for one invocation.
type core struct {
	root     string
	cfg      *config.Config
	col      *store.Collection
	fts      *fts.Index // nil when disabled/absent
	embedder embed.Embedder
	filter   *scanner.Filter
}

func (c *core) close() {
	if c.fts != nil {
		_ = c.fts.Close()
	}
	if c.col != nil {
		_ = c.col.Close()
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
}

// openCore wires the store, FTS, embedder, and filter for root. With
// create=false a missing collection is a user error pointing at
// 'index'; with create=true it is initialized.
func openCore(root string, cfg *config.Config, create bool) (*core, error) {
	c := &core{root: root, cfg: cfg}

	dir := collectionDir(root)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if !create {
			return nil, userError{fmt.Errorf("no collection at %s; run 'codeindexer index' first", dir)}
		}
		col, err := store.CreateCollection(dir, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, err
		}
		c.col = col
	} else {
		col, err := store.OpenCollection(dir)
		if err != nil {
			return nil, err
		}
		// Model dimension changes require an explicit migration; never
		// silently rebuild over mismatched vectors.
		if col.Dimensions() != cfg.Embedding.Dimensions {
			_ = col.Close()
			return nil, userError{fmt.Errorf(
				"collection dimension %d does not match configured model dimension %d; re-index into a fresh collection",
				col.Dimensions(), cfg.Embedding.Dimensions)}
		}
		c.col = col
	}

	if cfg.FTS.Enabled {
		idx, err := fts.Open(ftsDir(root), fts.Config{BatchSize: cfg.FTS.BatchSize})
		if err != nil {
			c.close()
			return nil, err
		}
		c.fts = idx
	}

	embedder, err := embed.NewFromConfig(embed.Config{
		Endpoint:   cfg.Embedding.Endpoint,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    config.ParseDuration(cfg.Embedding.Timeout, 0),
		MaxRetries: cfg.Embedding.MaxRetries,
		PoolSize:   cfg.Embedding.ParallelRequests,
	})
	if err != nil {
		c.close()
		return nil, err
	}
	c.embedder = embedder

	isGit := false
	if _, err := branch.OpenRepo(root); err == nil {
		isGit = true
	}
	filter, err := scanner.NewFilter(root, cfg, isGit)
	if err != nil {
		c.close()
		return nil, err
	}
	c.filter = filter

	return c, nil
}

func (c *core) orchestrator() (*pipeline.Orchestrator, error) {
	return pipeline.New(c.root, c.cfg, c.col, c.fts, c.embedder, c.filter)
}

func (c *core) engine() (*query.Engine, error) {
	return query.New(c.root, c.col, c.fts, c.embedder)
}
