package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// filePermissions is the mode for the persisted JSON documents.
const filePermissions = 0600

// dirPermissions is the mode for the data directory.
const dirPermissions = 0750

// marshalDocument renders a document the way both files are stored on
// disk: two-space indentation and a trailing newline. Byte-identical
// input yields byte-identical output, which keeps repeated writes of
// the same document stable.
func marshalDocument(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return append(data, '\n'), nil
}

// writeFileAtomic writes data to a sibling .tmp file and renames it
// over the target, so a reader never observes a partial document.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
