package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/workspacehq/gateway/internal/platform/apierr"
)

// FileStore persists Records as one JSON document per key, written
// atomically via create-then-rename (spec §6: "recommended" when
// durability matters).
type FileStore struct {
	dataDir string
}

// NewFileStore builds a FileStore rooted at dataDir.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

// Load reads the record for key. A missing file is reported as
// StoreKindNotFound; a file that fails to parse as JSON is reported as
// StoreKindCorrupt — both of which callers treat identically (spec §4.3).
func (s *FileStore) Load(key Key) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}

	raw, err := os.ReadFile(key.Path(s.dataDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, &apierr.StoreError{Kind: apierr.StoreKindNotFound, Cause: err}
		}
		return Record{}, &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, &apierr.StoreError{Kind: apierr.StoreKindCorrupt, Cause: err}
	}

	return rec, nil
}

// Save persists rec for key, creating parent directories as needed, then
// swapping a temp file into place so a reader never observes a partially
// written document.
func (s *FileStore) Save(key Key, rec Record) error {
	if err := key.Validate(); err != nil {
		return &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}

	path := key.Path(s.dataDir)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &apierr.StoreError{Kind: apierr.StoreKindIOError, Cause: err}
	}

	return nil
}
