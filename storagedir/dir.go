// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package storagedir manages the on-disk layout for fetched frames and
// derived artifacts.
package storagedir

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"storj.io/common/uuid"
)

var (
	// Error is the storagedir error class.
	Error = errs.Class("storagedir")

	mon = monkit.Package()
)

// Dir is a storage root with the fixed subdirectory layout:
// uploads/ for raw downloads, output/ for job results, temp/ for scratch
// space and thumbnails/ for preview images.
type Dir struct {
	root string
}

// New creates the storage root and its subdirectories.
func New(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	dir := &Dir{root: abs}
	for _, sub := range []string{dir.Uploads(), dir.Output(), dir.Temp(), dir.Thumbnails()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return dir, nil
}

// Root returns the absolute storage root.
func (dir *Dir) Root() string { return dir.root }

// Uploads returns the raw download directory.
func (dir *Dir) Uploads() string { return filepath.Join(dir.root, "uploads") }

// Output returns the job output directory.
func (dir *Dir) Output() string { return filepath.Join(dir.root, "output") }

// Temp returns the scratch directory.
func (dir *Dir) Temp() string { return filepath.Join(dir.root, "temp") }

// Thumbnails returns the thumbnail directory.
func (dir *Dir) Thumbnails() string { return filepath.Join(dir.root, "thumbnails") }

// JobOutput returns the per-job output directory, creating it if needed.
func (dir *Dir) JobOutput(jobID uuid.UUID) (string, error) {
	path := filepath.Join(dir.Output(), "goes_"+jobID.String())
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", Error.Wrap(err)
	}
	return path, nil
}

// Resolve cleans a stored path and verifies it stays inside the storage
// root, rejecting traversal attempts in catalog rows.
func (dir *Dir) Resolve(stored string) (string, error) {
	path := stored
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir.root, path)
	}
	path = filepath.Clean(path)
	if path != dir.root && !strings.HasPrefix(path, dir.root+string(filepath.Separator)) {
		return "", Error.New("path escapes storage root")
	}
	return path, nil
}

// Remove deletes a file under the root. Missing files are not an error so
// retention passes stay idempotent.
func (dir *Dir) Remove(stored string) error {
	if stored == "" {
		return nil
	}
	path, err := dir.Resolve(stored)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return Error.Wrap(err)
	}
	return nil
}

// FreeBytes reports the free space of the filesystem backing the root.
func (dir *Dir) FreeBytes(ctx context.Context) (_ uint64, err error) {
	defer mon.Task()(&ctx)(&err)

	usage, err := disk.UsageWithContext(ctx, dir.root)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return usage.Free, nil
}
