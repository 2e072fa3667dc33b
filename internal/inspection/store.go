package inspection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists an Index as a single JSON file using the same
// sibling-temp-file-then-rename discipline as the projection view store,
// so a reader never observes a partially written index.
type Store struct {
	path string
}

// NewStore builds a Store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save atomically writes idx to the store's path.
func (s *Store) Save(idx *Index) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir inspection index dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp inspection index file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	data, err := json.Marshal(idx)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("marshal inspection index: %w", err)
	}
	data = append(data, '\n')

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp inspection index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp inspection index file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename inspection index file into place: %w", err)
	}
	return nil
}

// Load reads the index at the store's path. It returns an error if the
// file is missing or malformed: unlike the projection view, there is no
// meaningful "empty" index to fall back to before the first successful
// Save.
func (s *Store) Load() (*Index, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("unmarshal inspection index: %w", err)
	}
	return &idx, nil
}
