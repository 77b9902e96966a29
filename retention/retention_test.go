// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package retention_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/catalog/catalogdb"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/retention"
	"github.com/goeswatch/goeswatch/storagedir"
)

type fixture struct {
	ctx    context.Context
	db     catalog.DB
	dir    *storagedir.Dir
	engine *retention.Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	db, err := catalogdb.Open(ctx, log, ":memory:", catalogdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.EnsureSchema(ctx))

	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	return &fixture{
		ctx:    ctx,
		db:     db,
		dir:    dir,
		engine: retention.NewEngine(log, db, dir),
		now:    time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC),
	}
}

// addFrame writes a real file and a catalog row with the given age in days.
func (f *fixture) addFrame(t *testing.T, name string, ageDays int, size int64) *catalog.Frame {
	t.Helper()
	path := filepath.Join(f.dir.Uploads(), name+".png")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))

	frame := &catalog.Frame{
		Satellite:   goes.GOES19,
		Sector:      goes.CONUS,
		Band:        goes.Band("C13"),
		CaptureTime: f.now.AddDate(0, 0, -ageDays),
		FilePath:    path,
		FileSize:    size,
		CreatedAt:   f.now.AddDate(0, 0, -ageDays),
	}
	require.NoError(t, f.db.Frames().Insert(f.ctx, frame))
	return frame
}

func TestMaxAgeRespectsProtection(t *testing.T) {
	f := newFixture(t)

	old := f.addFrame(t, "old", 40, 100)
	protected := f.addFrame(t, "protected", 40, 100)
	fresh := f.addFrame(t, "fresh", 1, 100)

	col := &catalog.Collection{Name: "keepers"}
	require.NoError(t, f.db.Collections().Create(f.ctx, col))
	require.NoError(t, f.db.Collections().AddFrame(f.ctx, col.ID, protected.ID))

	require.NoError(t, f.db.CleanupRules().Create(f.ctx, &catalog.CleanupRule{
		RuleType: catalog.RuleMaxAgeDays, Value: 30, ProtectCollections: true, IsActive: true,
	}))

	preview, err := f.engine.Preview(f.ctx, f.now)
	require.NoError(t, err)
	require.EqualValues(t, 1, preview.FrameCount)
	require.EqualValues(t, 100, preview.TotalSizeBytes)
	require.Equal(t, old.ID, preview.Frames[0].ID)

	result, err := f.engine.Run(f.ctx, f.now)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.DeletedFrames)
	require.EqualValues(t, 100, result.FreedBytes)

	// File gone, protected and fresh untouched.
	_, err = os.Stat(old.FilePath)
	require.True(t, os.IsNotExist(err))
	require.FileExists(t, protected.FilePath)
	require.FileExists(t, fresh.FilePath)

	_, err = f.db.Frames().Get(f.ctx, old.ID)
	require.True(t, catalog.ErrNotFound.Has(err))
	_, err = f.db.Frames().Get(f.ctx, protected.ID)
	require.NoError(t, err)
}

func TestMaxStorageFreesOldestFirst(t *testing.T) {
	f := newFixture(t)

	// 5 frames of 0.5 GiB-ish (scaled down: rule value in GB, so use
	// fractional budget). Use a 5-frame catalog of 1 MiB each and a
	// budget of 3 MiB.
	const mib = 1 << 20
	var frames []*catalog.Frame
	for i := 0; i < 5; i++ {
		frames = append(frames, f.addFrame(t, "frame"+strconv.Itoa(i), 10-i, mib))
	}

	budgetGB := 3.0 / 1024.0 // 3 MiB
	require.NoError(t, f.db.CleanupRules().Create(f.ctx, &catalog.CleanupRule{
		RuleType: catalog.RuleMaxStorageGB, Value: budgetGB, IsActive: true,
	}))

	result, err := f.engine.Run(f.ctx, f.now)
	require.NoError(t, err)
	// 5 MiB total, 3 MiB budget: the two oldest frames cover the excess.
	require.EqualValues(t, 2, result.DeletedFrames)
	require.EqualValues(t, 2*mib, result.FreedBytes)

	// frames[0] is the oldest (age 10 days), frames[1] next.
	_, err = f.db.Frames().Get(f.ctx, frames[0].ID)
	require.True(t, catalog.ErrNotFound.Has(err))
	_, err = f.db.Frames().Get(f.ctx, frames[1].ID)
	require.True(t, catalog.ErrNotFound.Has(err))
	_, err = f.db.Frames().Get(f.ctx, frames[2].ID)
	require.NoError(t, err)
}

func TestUnderBudgetDeletesNothing(t *testing.T) {
	f := newFixture(t)
	f.addFrame(t, "small", 5, 1024)

	require.NoError(t, f.db.CleanupRules().Create(f.ctx, &catalog.CleanupRule{
		RuleType: catalog.RuleMaxStorageGB, Value: 1, IsActive: true,
	}))

	preview, err := f.engine.Preview(f.ctx, f.now)
	require.NoError(t, err)
	require.Zero(t, preview.FrameCount)

	result, err := f.engine.Run(f.ctx, f.now)
	require.NoError(t, err)
	require.Zero(t, result.DeletedFrames)
}

func TestRulesUnion(t *testing.T) {
	f := newFixture(t)

	old := f.addFrame(t, "old", 40, 100)
	mid := f.addFrame(t, "mid", 20, 1<<20)

	require.NoError(t, f.db.CleanupRules().Create(f.ctx, &catalog.CleanupRule{
		RuleType: catalog.RuleMaxAgeDays, Value: 30, IsActive: true,
	}))
	// Budget below current usage selects the oldest unprotected frames,
	// which overlaps the age rule; the union must not double-count.
	require.NoError(t, f.db.CleanupRules().Create(f.ctx, &catalog.CleanupRule{
		RuleType: catalog.RuleMaxStorageGB, Value: 0.5 / 1024.0, IsActive: true,
	}))

	preview, err := f.engine.Preview(f.ctx, f.now)
	require.NoError(t, err)
	require.EqualValues(t, 2, preview.FrameCount)

	result, err := f.engine.Run(f.ctx, f.now)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.DeletedFrames)

	_, err = f.db.Frames().Get(f.ctx, old.ID)
	require.True(t, catalog.ErrNotFound.Has(err))
	_, err = f.db.Frames().Get(f.ctx, mid.ID)
	require.True(t, catalog.ErrNotFound.Has(err))
}

func TestMissingFilesIgnored(t *testing.T) {
	f := newFixture(t)

	frame := f.addFrame(t, "ghost", 40, 100)
	require.NoError(t, os.Remove(frame.FilePath))

	require.NoError(t, f.db.CleanupRules().Create(f.ctx, &catalog.CleanupRule{
		RuleType: catalog.RuleMaxAgeDays, Value: 30, IsActive: true,
	}))

	result, err := f.engine.Run(f.ctx, f.now)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.DeletedFrames)
}
