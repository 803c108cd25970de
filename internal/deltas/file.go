package deltas

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadFile returns the deltas recorded for relPath under root.
// A file with no recorded deltas yields an empty slice.
func ReadFile(root, relPath string) ([]Delta, error) {
	path, err := resolve(root, relPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Delta{}, nil
		}
		return nil, fmt.Errorf("failed to read deltas: %w", err)
	}

	var deltas []Delta
	if err := json.Unmarshal(data, &deltas); err != nil {
		return nil, fmt.Errorf("failed to parse deltas for %s: %w", relPath, err)
	}

	return deltas, nil
}

// WriteFile replaces the delta log for relPath under root.
// The write goes through a temp file and a rename so readers never observe a
// partially written log.
func WriteFile(root, relPath string, deltas []Delta) error {
	path, err := resolve(root, relPath)
	if err != nil {
		return err
	}

	data, err := json.Marshal(deltas)
	if err != nil {
		return fmt.Errorf("failed to marshal deltas: %w", err)
	}

	return writeAtomic(path, data)
}

// Append adds d to the end of the delta log for relPath and returns the
// new log.
func Append(root, relPath string, d Delta) ([]Delta, error) {
	existing, err := ReadFile(root, relPath)
	if err != nil {
		return nil, err
	}

	updated := append(existing, d)
	if err := WriteFile(root, relPath, updated); err != nil {
		return nil, err
	}

	return updated, nil
}

// ListFiles returns every relative path that has a delta log under root,
// sorted.
func ListFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list delta files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

func resolve(root, relPath string) (string, error) {
	cleaned := filepath.FromSlash(relPath)
	if !filepath.IsLocal(cleaned) {
		return "", fmt.Errorf("path %q escapes the delta root", relPath)
	}
	return filepath.Join(root, cleaned), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
