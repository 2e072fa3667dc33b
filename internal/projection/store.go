package projection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists a View as a single JSON file, writing to a sibling temp
// file and renaming over the target so a concurrent reader never observes
// a partially written document.
type Store struct {
	path string
}

// NewStore builds a Store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the view at the store's path, returning an empty normalized
// view if the file does not exist or fails to parse — mirroring the
// reference store's tolerance for a missing or corrupt view file rather
// than failing the whole materializer loop.
func (s *Store) Load() (*View, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Empty(), nil
	}
	var v View
	if err := json.Unmarshal(data, &v); err != nil {
		return Empty(), nil
	}
	return Normalize(&v), nil
}

// Save atomically writes view to the store's path using canonical
// (sorted-key, no-indent) serialization, then returns the normalized view
// that was written.
func (s *Store) Save(view *View) (*View, error) {
	normalized := Normalize(view)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir view dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp view file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	data, err := json.Marshal(normalized)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("marshal view: %w", err)
	}
	// Struct fields marshal in declaration order; a round trip through a
	// generic value re-emits every object with its keys sorted.
	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("canonicalize view: %w", err)
	}
	if data, err = json.Marshal(generic); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("marshal view: %w", err)
	}
	data = append(data, '\n')

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp view file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp view file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return nil, fmt.Errorf("rename view file into place: %w", err)
	}
	return normalized, nil
}
