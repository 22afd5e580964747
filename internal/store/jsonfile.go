package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/localci/codeindexer/internal/atomicfile"
)

// writeJSONAtomic marshals v and writes it via a temp-file-then-rename
// so a reader never observes a partially written sidecar or manifest.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return atomicfile.Write(path, data, 0o644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
