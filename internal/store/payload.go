package store

import "time"

// payload is the on-disk JSON sidecar for a chunk, holding everything
// in Record except its vector, which lives in the paired .vec.bin file.
type payload struct {
	ChunkID    string    `json:"chunk_id"`
	Path       string    `json:"path"`
	FileHash   string    `json:"file_hash"`
	ChunkIndex int       `json:"chunk_index"`
	ByteStart  int       `json:"byte_start"`
	ByteEnd    int       `json:"byte_end"`
	LineStart  int       `json:"line_start"`
	LineEnd    int       `json:"line_end"`
	Language   string    `json:"language"`
	Branch     string    `json:"branch"`
	AddedAt    time.Time `json:"indexed_at"`
	FileMTime  time.Time `json:"file_last_modified"`
}

func payloadFromRecord(r Record) payload {
	return payload{
		ChunkID:    r.ChunkID,
		Path:       r.Path,
		FileHash:   r.FileHash,
		ChunkIndex: r.ChunkIndex,
		ByteStart:  r.ByteStart,
		ByteEnd:    r.ByteEnd,
		LineStart:  r.LineStart,
		LineEnd:    r.LineEnd,
		Language:   r.Language,
		Branch:     r.Branch,
		AddedAt:    r.AddedAt,
		FileMTime:  r.FileMTime,
	}
}

func (p payload) toRecord(vec []float32) Record {
	return Record{
		ChunkID:    p.ChunkID,
		Vector:     vec,
		Path:       p.Path,
		FileHash:   p.FileHash,
		ChunkIndex: p.ChunkIndex,
		ByteStart:  p.ByteStart,
		ByteEnd:    p.ByteEnd,
		LineStart:  p.LineStart,
		LineEnd:    p.LineEnd,
		Language:   p.Language,
		Branch:     p.Branch,
		AddedAt:    p.AddedAt,
		FileMTime:  p.FileMTime,
	}
}

func writePayload(path string, p payload) error {
	return writeJSONAtomic(path, p)
}

func readPayload(path string) (payload, error) {
	var p payload
	err := readJSON(path, &p)
	return p, err
}
