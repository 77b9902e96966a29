// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package storagedir_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/storagedir"
)

func TestLayout(t *testing.T) {
	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	for _, sub := range []string{dir.Uploads(), dir.Output(), dir.Temp(), dir.Thumbnails()} {
		info, err := os.Stat(sub)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}

	jobID, err := uuid.New()
	require.NoError(t, err)
	out, err := dir.JobOutput(jobID)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir.Output(), "goes_"+jobID.String()), out)
	info, err := os.Stat(out)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestResolveContainment(t *testing.T) {
	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	resolved, err := dir.Resolve("uploads/frame.png")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir.Root(), "uploads", "frame.png"), resolved)

	_, err = dir.Resolve("../outside.png")
	require.Error(t, err)

	_, err = dir.Resolve("uploads/../../etc/passwd")
	require.Error(t, err)

	_, err = dir.Resolve("/etc/passwd")
	require.Error(t, err)
}

func TestRemoveIdempotent(t *testing.T) {
	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	path := filepath.Join(dir.Uploads(), "frame.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	require.NoError(t, dir.Remove(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// A second remove of the same path is not an error.
	require.NoError(t, dir.Remove(path))
	// Empty paths are ignored; frames without thumbnails store "".
	require.NoError(t, dir.Remove(""))
}

func TestFreeBytes(t *testing.T) {
	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	free, err := dir.FreeBytes(context.Background())
	require.NoError(t, err)
	require.NotZero(t, free)
}
