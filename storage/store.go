// Package storage persists JSON-shaped values under a typed directory tree
// rooted at the hub's data directory. Documents are addressed by path
// segments, e.g. ("Components", "lamp.1", "settings.json").
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wirehome/core"
)

// Well-known file names inside entity directories.
const (
	ConfigurationFilename = "configuration.json"
	SettingsFilename      = "settings.json"
)

// Store reads and writes JSON documents below a single root directory.
// All methods are safe for concurrent use; atomicity of a single Write is
// provided by writing to a temp file and renaming it into place.
type Store struct {
	root   string
	logger wirehome.Logger
}

// New creates a store rooted at the given data directory. The directory is
// created if it does not exist yet.
func New(root string, logger wirehome.Logger) (*Store, error) {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute data directory path.
func (s *Store) Root() string {
	return s.root
}

// resolve joins the path segments below the root and rejects traversal.
func (s *Store) resolve(path ...string) (string, error) {
	if len(path) == 0 {
		return "", ErrEmptyPath
	}
	for _, segment := range path {
		if segment == "" {
			return "", ErrEmptyPath
		}
	}
	full := filepath.Join(append([]string{s.root}, path...)...)
	full = filepath.Clean(full)
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return full, nil
}

// TryRead deserializes the JSON document at the given path into out.
// A missing document is not an error; it is reported as found == false.
func (s *Store) TryRead(out interface{}, path ...string) (bool, error) {
	full, err := s.resolve(path...)
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", full, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", full, err)
	}
	return true, nil
}

// Write serializes the value as JSON and atomically replaces the document at
// the given path, creating parent directories as needed.
func (s *Store) Write(value interface{}, path ...string) error {
	full, err := s.resolve(path...)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", full, err)
	}

	tmp, err := os.CreateTemp(dir, ".wirehome-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", full, err)
	}
	return nil
}

// EnumerateDirectories lists the names of immediate sub-directories of the
// given path whose names match the glob pattern. A missing parent directory
// yields an empty list.
func (s *Store) EnumerateDirectories(pattern string, path ...string) ([]string, error) {
	full := s.root
	if len(path) > 0 {
		var err error
		full, err = s.resolve(path...)
		if err != nil {
			return nil, err
		}
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("enumerate %s: %w", full, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("match pattern %q: %w", pattern, err)
		}
		if ok {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// DeleteDirectory removes the directory at the given path recursively.
// Deleting a missing directory is a no-op.
func (s *Store) DeleteDirectory(path ...string) error {
	full, err := s.resolve(path...)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete %s: %w", full, err)
	}
	return nil
}

// DeleteFile removes a single document. Missing files are a no-op.
func (s *Store) DeleteFile(path ...string) error {
	full, err := s.resolve(path...)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", full, err)
	}
	return nil
}
