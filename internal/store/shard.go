package store

import "path/filepath"

// shardPath splits chunkID's first 8 hex characters into four 2-char
// levels, giving 256^4 buckets so no directory holds an unbounded
// fraction of a large collection's files.
func shardPath(base, chunkID, ext string) string {
	a, b, c, d := "00", "00", "00", "00"
	if len(chunkID) >= 2 {
		a = chunkID[0:2]
	}
	if len(chunkID) >= 4 {
		b = chunkID[2:4]
	}
	if len(chunkID) >= 6 {
		c = chunkID[4:6]
	}
	if len(chunkID) >= 8 {
		d = chunkID[6:8]
	}
	return filepath.Join(base, a, b, c, d, chunkID+ext)
}

func vectorPath(collectionDir, chunkID string) string {
	return shardPath(filepath.Join(collectionDir, "vectors"), chunkID, ".vec.bin")
}

func payloadPath(collectionDir, chunkID string) string {
	return shardPath(filepath.Join(collectionDir, "payloads"), chunkID, ".json")
}
