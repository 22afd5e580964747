package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func manifestPath(collectionDir string) string {
	return filepath.Join(collectionDir, "manifest.json")
}

// createManifest writes a fresh manifest.json for a new collection.
func createManifest(collectionDir, model string, dimensions int) (Manifest, error) {
	now := time.Now().UTC()
	m := Manifest{
		SchemaVersion: CurrentSchemaVersion,
		Model:         model,
		Dimensions:    dimensions,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := writeJSONAtomic(manifestPath(collectionDir), m); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// loadManifest reads manifest.json, refusing to open a collection
// written by a newer, incompatible schema version.
func loadManifest(collectionDir string) (Manifest, error) {
	var m Manifest
	path := manifestPath(collectionDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Manifest{}, fmt.Errorf("%w: manifest missing at %s", ErrCollectionNotFound, path)
	}
	if err := readJSON(path, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if m.SchemaVersion > CurrentSchemaVersion {
		return Manifest{}, fmt.Errorf("%w: manifest schema version %d newer than supported %d", ErrCorrupt, m.SchemaVersion, CurrentSchemaVersion)
	}
	return m, nil
}

func touchManifest(collectionDir string, m Manifest) error {
	m.UpdatedAt = time.Now().UTC()
	return writeJSONAtomic(manifestPath(collectionDir), m)
}
