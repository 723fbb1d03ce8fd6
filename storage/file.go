package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File persists items as one JSON object on disk, rewritten on every change.
// It suits CLIs that keep a session between runs.
type File struct {
	mu    sync.Mutex
	path  string
	items map[string]string
}

type fileContents struct {
	Items map[string]string `json:"items"`
}

// NewFile opens (or lazily creates) the store at path. An empty path defaults
// to <user config dir>/<appName>/session.json.
func NewFile(path, appName string) (*File, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return nil, fmt.Errorf("storage: resolve config directory: %w", herr)
			}
			dir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "goauth"
		}
		path = filepath.Join(dir, appName, "session.json")
	}

	f := &File{path: path, items: make(map[string]string)}
	if err := f.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return f, nil
}

// Path returns the backing file location.
func (f *File) Path() string { return f.path }

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return fmt.Errorf("storage: parse %s: %w", f.path, err)
	}
	if contents.Items != nil {
		f.items = contents.Items
	}
	return nil
}

// save must be called with f.mu held.
func (f *File) save() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	data, err := json.MarshalIndent(fileContents{Items: f.items}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *File) GetItem(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	return v, ok, nil
}

func (f *File) SetItem(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = value
	return f.save()
}

func (f *File) RemoveItem(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return nil
	}
	delete(f.items, key)
	return f.save()
}
