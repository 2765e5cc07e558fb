package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileStore persists all keys in a single JSON document. The document is read
// fresh on every Get; concurrent writers from other processes are not
// coordinated, last writer wins.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFile creates a store backed by path on fs. The file is created lazily on
// the first Set.
func NewFile(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Path returns the backing file path
func (f *FileStore) Path() string {
	return f.path
}

// Get implements Store
func (f *FileStore) Get(key string, def any) (any, error) {
	doc, err := f.read()
	if err != nil {
		return nil, err
	}

	raw, ok := doc[key]
	if !ok {
		return def, nil
	}
	return decode(raw)
}

// Set implements Store
func (f *FileStore) Set(key string, value any) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		// Corrupt documents are replaced.
		doc = make(map[string]json.RawMessage)
	}
	doc[key] = raw
	return f.write(doc)
}

// read loads the whole document. A missing file is an empty document.
func (f *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("read store %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return make(map[string]json.RawMessage), nil
	}

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", f.path, err)
	}
	return doc, nil
}

// write atomically replaces the document via a temp file and rename
func (f *FileStore) write(doc map[string]json.RawMessage) error {
	if err := f.fs.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, 0644); err != nil {
		return err
	}
	return f.fs.Rename(tmp, f.path)
}
