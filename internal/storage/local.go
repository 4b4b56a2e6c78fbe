package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalDisk serves files below a root directory
type LocalDisk struct {
	root string
}

var _ Backend = (*LocalDisk)(nil)

// NewLocalDisk creates a disk rooted at root
func NewLocalDisk(root string) (*LocalDisk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve disk root %q: %w", root, err)
	}
	return &LocalDisk{root: abs}, nil
}

// Root returns the absolute root directory
func (d *LocalDisk) Root() string {
	return d.root
}

// resolve joins p onto the root and rejects anything escaping it
func (d *LocalDisk) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrInvalidPath
	}

	full := filepath.Join(d.root, filepath.FromSlash(p))
	rel, err := filepath.Rel(d.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}

	return full, nil
}

func (d *LocalDisk) stat(p string) (fs.FileInfo, error) {
	full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrFileNotFound
	}

	return info, nil
}

// Exists reports whether a regular file exists at p
func (d *LocalDisk) Exists(_ context.Context, p string) (bool, error) {
	_, err := d.stat(p)
	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size returns the file size in bytes
func (d *LocalDisk) Size(_ context.Context, p string) (int64, error) {
	info, err := d.stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Open opens the file for reading
func (d *LocalDisk) Open(_ context.Context, p string) (io.ReadCloser, error) {
	if _, err := d.stat(p); err != nil {
		return nil, err
	}

	full, _ := d.resolve(p)
	return os.Open(full)
}
