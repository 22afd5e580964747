package query

import "time"

// Staleness annotates whether a result's indexed state still matches
// the file on disk.
type Staleness struct {
	Stale bool `json:"stale"`

	// DeltaSeconds is how far the live file's mtime has moved past the
	// result's indexed_at, 0 when fresh. Both sides are normalized to
	// UTC seconds before comparison.
	DeltaSeconds int64 `json:"delta_seconds"`
}

// annotateStaleness compares a result's indexed_at against the live
// file's mtime. For a missing file the caller passes the current time
// as the mtime and marks the result stale itself.
func annotateStaleness(indexedAt, fileMTime time.Time, threshold time.Duration) Staleness {
	indexed := indexedAt.UTC().Unix()
	live := fileMTime.UTC().Unix()

	delta := live - indexed
	if delta <= int64(threshold.Seconds()) {
		return Staleness{Stale: false}
	}
	return Staleness{Stale: true, DeltaSeconds: delta}
}
