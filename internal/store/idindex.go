package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// idIndex maps chunk_id to its shard location and provenance. It is
// backed by a single-writer SQLite database in WAL mode so Scroll can
// keyset-paginate in O(log n) instead of loading a flat JSON file that
// would not scale past tens of thousands of entries.
type idIndex struct {
	db *sql.DB
}

const idIndexSchema = `
CREATE TABLE IF NOT EXISTS id_index (
	chunk_id   TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	file_hash  TEXT NOT NULL,
	branch     TEXT NOT NULL,
	added_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_id_index_path ON id_index(path);
CREATE INDEX IF NOT EXISTS idx_id_index_file_hash ON id_index(file_hash);
`

func openIDIndex(path string) (*idIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	db, err := sql.Open(sqliteDriver, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open id_index: %w", err)
	}

	// A single connection serializes every statement from this process,
	// readers included, which avoids SQLite lock contention; WAL mode
	// lets readers in other processes proceed during a write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	for _, schema := range []string{idIndexSchema, visibilitySchema} {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &idIndex{db: db}, nil
}

func (idx *idIndex) upsert(chunkID, path, fileHash, branch string, addedAt time.Time) error {
	_, err := idx.db.Exec(
		`INSERT INTO id_index (chunk_id, path, file_hash, branch, added_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET
		   path=excluded.path, file_hash=excluded.file_hash,
		   branch=excluded.branch, added_at=excluded.added_at`,
		chunkID, path, fileHash, branch, addedAt.Unix(),
	)
	return err
}

func (idx *idIndex) delete(chunkID string) error {
	_, err := idx.db.Exec(`DELETE FROM id_index WHERE chunk_id = ?`, chunkID)
	return err
}

func (idx *idIndex) contains(chunkID string) (bool, error) {
	var one int
	err := idx.db.QueryRow(`SELECT 1 FROM id_index WHERE chunk_id = ?`, chunkID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (idx *idIndex) count() (int, error) {
	var n int
	err := idx.db.QueryRow(`SELECT COUNT(*) FROM id_index`).Scan(&n)
	return n, err
}

// scroll returns up to limit chunk_ids with chunk_id > from, ordered
// ascending, for keyset pagination.
func (idx *idIndex) scroll(from string, limit int) (ScrollPage, error) {
	rows, err := idx.db.Query(
		`SELECT chunk_id FROM id_index WHERE chunk_id > ? ORDER BY chunk_id LIMIT ?`,
		from, limit,
	)
	if err != nil {
		return ScrollPage{}, err
	}
	defer rows.Close()

	var page ScrollPage
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ScrollPage{}, err
		}
		page.ChunkIDs = append(page.ChunkIDs, id)
	}
	if err := rows.Err(); err != nil {
		return ScrollPage{}, err
	}
	if len(page.ChunkIDs) == limit {
		page.NextFrom = page.ChunkIDs[len(page.ChunkIDs)-1]
	}
	return page, nil
}

func (idx *idIndex) allChunkIDs() ([]string, error) {
	rows, err := idx.db.Query(`SELECT chunk_id FROM id_index ORDER BY chunk_id`)
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

func (idx *idIndex) close() error {
	return idx.db.Close()
}
