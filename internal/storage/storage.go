// Package storage resolves rachma file paths on named disks.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	ErrFileNotFound = errors.New("file not found on disk")
	ErrUnknownDisk  = errors.New("unknown disk")
	ErrInvalidPath  = errors.New("invalid file path")
)

// Storage answers file questions for a disk name and a path relative to it
type Storage interface {
	Exists(ctx context.Context, disk, path string) (bool, error)
	Size(ctx context.Context, disk, path string) (int64, error)
	Open(ctx context.Context, disk, path string) (io.ReadCloser, error)
}

// Backend is a single disk
type Backend interface {
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Disks routes a disk name to its backend
type Disks struct {
	backends map[string]Backend
}

var _ Storage = (*Disks)(nil)

// NewDisks creates a router over the given backends
func NewDisks(backends map[string]Backend) *Disks {
	d := &Disks{backends: make(map[string]Backend, len(backends))}
	for name, b := range backends {
		d.backends[name] = b
	}
	return d
}

// Names returns the configured disk names in sorted order
func (d *Disks) Names() []string {
	names := make([]string, 0, len(d.backends))
	for name := range d.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Disks) backend(disk string) (Backend, error) {
	b, ok := d.backends[disk]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDisk, disk)
	}
	return b, nil
}

// Exists reports whether path is present on disk
func (d *Disks) Exists(ctx context.Context, disk, path string) (bool, error) {
	b, err := d.backend(disk)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, path)
}

// Size returns the size in bytes of path on disk
func (d *Disks) Size(ctx context.Context, disk, path string) (int64, error) {
	b, err := d.backend(disk)
	if err != nil {
		return 0, err
	}
	return b.Size(ctx, path)
}

// Open returns a reader for path on disk. The caller closes it.
func (d *Disks) Open(ctx context.Context, disk, path string) (io.ReadCloser, error) {
	b, err := d.backend(disk)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, path)
}
