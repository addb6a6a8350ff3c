package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileArchive keeps snapshots in a local directory; used when no storage account is configured
type FileArchive struct {
	dir string
}

// Ensure FileArchive implements Archive
var _ Archive = (*FileArchive)(nil)

// NewFileArchive creates the archive directory if needed
func NewFileArchive(dir string) (*FileArchive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchive{dir: dir}, nil
}

func (f *FileArchive) path(filename string) (string, error) {
	clean, err := cleanSnapshotName(filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dir, filepath.FromSlash(clean)), nil
}

func (f *FileArchive) Store(filename string, data []byte) error {
	p, err := f.path(filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return os.WriteFile(p, data, 0o644)
}

func (f *FileArchive) Retrieve(filename string) ([]byte, error) {
	p, err := f.path(filename)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (f *FileArchive) List(prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(f.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FileArchive) Delete(filename string) error {
	p, err := f.path(filename)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
