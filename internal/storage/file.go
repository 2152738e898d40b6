package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists documents as <dir>/<collection>/<key>.json. Writes go to
// a .tmp file first, then rename over the target, so a crash mid-save never
// leaves a partial document.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes all file operations
}

// OpenFile creates a file-backed store rooted at dir.
func OpenFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// safeName rejects keys that could escape the collection directory.
func safeName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid store name %q", name)
	}
	return nil
}

func (f *FileStore) path(collection, key string) (string, error) {
	if err := safeName(collection); err != nil {
		return "", err
	}
	if err := safeName(key); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, collection, key+".json"), nil
}

func (f *FileStore) Put(_ context.Context, collection, key string, doc []byte) error {
	path, err := f.path(collection, key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o600); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return os.Rename(tmp, path)
}

func (f *FileStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	path, err := f.path(collection, key)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return doc, nil
}

func (f *FileStore) Delete(_ context.Context, collection, key string) error {
	path, err := f.path(collection, key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (f *FileStore) Keys(_ context.Context, collection string) ([]string, error) {
	if err := safeName(collection); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(f.dir, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list collection: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

func (f *FileStore) Close() error { return nil }
