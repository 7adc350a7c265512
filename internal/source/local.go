package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local reads knowledge-base files from a directory tree on disk.
type Local struct {
	root string
}

// NewLocal creates a Local source rooted at dir.
func NewLocal(dir string) (*Local, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge base path %s is not a directory", dir)
	}
	return &Local{root: dir}, nil
}

// List walks the tree and returns ingestible files, hidden entries skipped.
func (l *Local) List(_ context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != l.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !ingestibleExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}
	return paths, nil
}

// Read loads one file by relative path.
func (l *Local) Read(_ context.Context, path string) (*File, error) {
	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &File{Path: path, Data: data}, nil
}
