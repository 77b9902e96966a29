// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/catalog/catalogdb"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/ingest"
	"github.com/goeswatch/goeswatch/jobs"
	"github.com/goeswatch/goeswatch/objectstore"
	"github.com/goeswatch/goeswatch/render"
	"github.com/goeswatch/goeswatch/retention"
	"github.com/goeswatch/goeswatch/storagedir"
)

type bucketStub struct {
	objects map[string][]objectstore.Object
}

func (stub *bucketStub) List(ctx context.Context, bucket, prefix string) ([]objectstore.Object, error) {
	return stub.objects[prefix], nil
}

func (stub *bucketStub) Download(ctx context.Context, bucket, key, dest string) (int64, error) {
	data := []byte("not a netcdf file")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

type fixture struct {
	ctx  context.Context
	db   *catalogdb.DB
	dir  *storagedir.Dir
	stub *bucketStub
	deps Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	log := zaptest.NewLogger(t)

	db, err := catalogdb.Open(ctx, log, ":memory:", catalogdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	stub := &bucketStub{objects: map[string][]objectstore.Object{}}
	deps := Deps{
		Log:       log,
		DB:        db,
		Dir:       dir,
		Ingest:    ingest.NewService(log, stub, db, dir, ingest.Config{MinFreeBytes: 1}),
		Retention: retention.NewEngine(log, db, dir),
		Encoder:   render.NewEncoder(log, ""),
		Notifier:  NewNotifier(log, db),
	}
	return &fixture{ctx: ctx, db: db, dir: dir, stub: stub, deps: deps}
}

func startJob(t *testing.T, f *fixture, jobType catalog.JobType, params map[string]any) (*catalog.Job, *jobs.Reporter) {
	t.Helper()
	job := &catalog.Job{Type: jobType, Params: params}
	require.NoError(t, f.db.Jobs().Create(f.ctx, job))
	require.NoError(t, f.db.Jobs().Start(f.ctx, job.ID, "task-1", time.Now().UTC()))
	return job, jobs.NewReporter(zaptest.NewLogger(t), f.db, nil, job.ID)
}

// conusKey builds a CONUS object key whose scan time is t.
func conusKey(band string, t time.Time) string {
	scan := fmt.Sprintf("%04d%03d%02d%02d%02d2", t.Year(), t.YearDay(), t.Hour(), t.Minute(), t.Second())
	return fmt.Sprintf("ABI-L2-CMIPC/%04d/%03d/%02d/OR_ABI-L2-CMIPC-M6%s_G19_s%s_e%s_c%s.nc",
		t.Year(), t.YearDay(), t.Hour(), band, scan, scan, scan)
}

func writeFrame(t *testing.T, f *fixture, band goes.Band, captureTime time.Time, value uint8, width, height int) *catalog.Frame {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	path := filepath.Join(f.dir.Uploads(), fmt.Sprintf("%s_%d.png", band, captureTime.Unix()))
	size, err := savePNG(img, path)
	require.NoError(t, err)

	frame := &catalog.Frame{
		Satellite:   goes.GOES19,
		Sector:      goes.CONUS,
		Band:        band,
		CaptureTime: captureTime,
		FilePath:    path,
		FileSize:    size,
		Width:       width,
		Height:      height,
	}
	require.NoError(t, f.db.Frames().Insert(f.ctx, frame))
	return frame
}

func TestFetchHandlerCompletes(t *testing.T) {
	f := newFixture(t)

	window := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	prefix := "ABI-L2-CMIPC/2024/167/12/"
	for i := 0; i < 3; i++ {
		key := conusKey("C13", window.Add(time.Duration(i*5)*time.Minute))
		f.stub.objects[prefix] = append(f.stub.objects[prefix], objectstore.Object{Key: key, Size: 64})
	}

	job, rep := startJob(t, f, catalog.JobGoesFetch, map[string]any{
		"satellite": "GOES-19",
		"sector":    "CONUS",
		"band":      "C13",
		"start":     window.Format(time.RFC3339),
		"end":       window.Add(30 * time.Minute).Format(time.RFC3339),
	})

	result, err := f.deps.fetchHandler(f.ctx, job, rep)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompleted, result.Status)
	require.Equal(t, "Fetched 3 frames", result.Message)

	_, total, err := f.db.Frames().List(f.ctx, catalog.ListFramesOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	notifs, err := f.db.Notifications().List(f.ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	require.Equal(t, catalog.NotifyFetchComplete, notifs[0].Type)
}

func TestFetchHandlerEmptyWindowNotifiesFailure(t *testing.T) {
	f := newFixture(t)

	window := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	job, rep := startJob(t, f, catalog.JobGoesFetch, map[string]any{
		"satellite": "GOES-19",
		"sector":    "CONUS",
		"band":      "C13",
		"start":     window.Format(time.RFC3339),
		"end":       window.Add(10 * time.Minute).Format(time.RFC3339),
	})

	result, err := f.deps.fetchHandler(f.ctx, job, rep)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, result.Status)

	notifs, err := f.db.Notifications().List(f.ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	require.Equal(t, catalog.NotifyFetchFailed, notifs[0].Type)
}

func TestCompositeGenerateHandler(t *testing.T) {
	f := newFixture(t)

	captureTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	writeFrame(t, f, "C02", captureTime, 200, 40, 40)
	writeFrame(t, f, "C03", captureTime, 120, 20, 20)
	writeFrame(t, f, "C01", captureTime, 60, 40, 40)

	job, rep := startJob(t, f, catalog.JobCompositeGenerate, nil)

	composite := &catalog.Composite{
		JobID:       job.ID,
		Status:      catalog.JobPending,
		Recipe:      "true_color",
		Satellite:   goes.GOES19,
		Sector:      goes.CONUS,
		CaptureTime: captureTime,
	}
	require.NoError(t, f.db.Artifacts().CreateComposite(f.ctx, composite))

	job.Params = map[string]any{
		"composite_id": composite.ID.String(),
		"recipe":       "true_color",
		"satellite":    "GOES-19",
		"sector":       "CONUS",
		"capture_time": captureTime.Format(time.RFC3339),
	}

	result, err := f.deps.compositeGenerateHandler(f.ctx, job, rep)
	require.NoError(t, err)
	require.Equal(t, "Generated true_color composite", result.Message)

	loaded, err := f.db.Artifacts().GetComposite(f.ctx, composite.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompleted, loaded.Status)
	require.NotEmpty(t, loaded.FilePath)
	require.Positive(t, loaded.FileSize)

	// The smallest channel (20x20) is the reference shape.
	img, err := loadImage(loaded.FilePath)
	require.NoError(t, err)
	require.Equal(t, 20, img.Bounds().Dx())
	require.Equal(t, 20, img.Bounds().Dy())
}

func TestCompositeGenerateHandlerMissingBandIsPartial(t *testing.T) {
	f := newFixture(t)

	captureTime := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	writeFrame(t, f, "C02", captureTime, 200, 30, 30)

	job, rep := startJob(t, f, catalog.JobCompositeGenerate, nil)
	composite := &catalog.Composite{
		JobID: job.ID, Status: catalog.JobPending, Recipe: "true_color",
		Satellite: goes.GOES19, Sector: goes.CONUS, CaptureTime: captureTime,
	}
	require.NoError(t, f.db.Artifacts().CreateComposite(f.ctx, composite))
	job.Params = map[string]any{
		"composite_id": composite.ID.String(),
		"recipe":       "true_color",
		"satellite":    "GOES-19",
		"sector":       "CONUS",
		"capture_time": captureTime.Format(time.RFC3339),
	}

	result, err := f.deps.compositeGenerateHandler(f.ctx, job, rep)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompletedPartial, result.Status)
	require.Contains(t, result.Message, "2 of 3 bands missing")
}

func TestImageProcessHandlerCropAndScale(t *testing.T) {
	f := newFixture(t)

	frame := writeFrame(t, f, "C13", time.Now().UTC(), 128, 100, 80)

	job, rep := startJob(t, f, catalog.JobImageProcess, map[string]any{
		"frame_id": frame.ID.String(),
		"crop":     map[string]any{"x": 10.0, "y": 10.0, "width": 50.0, "height": 40.0},
		"scale":    1.0,
	})

	result, err := f.deps.imageProcessHandler(f.ctx, job, rep)
	require.NoError(t, err)
	require.Equal(t, "Processed 1 frame", result.Message)

	loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, loaded.OutputPath)

	img, err := loadImage(loaded.OutputPath)
	require.NoError(t, err)
	require.Equal(t, 50, img.Bounds().Dx())
	require.Equal(t, 40, img.Bounds().Dy())
}

func TestCleanupHandler(t *testing.T) {
	f := newFixture(t)

	img := image.NewGray(image.Rect(0, 0, 10, 10))
	path := filepath.Join(f.dir.Uploads(), "old.png")
	size, err := savePNG(img, path)
	require.NoError(t, err)
	old := &catalog.Frame{
		Satellite:   goes.GOES19,
		Sector:      goes.CONUS,
		Band:        "C13",
		CaptureTime: time.Now().UTC().Add(-40 * 24 * time.Hour),
		FilePath:    path,
		FileSize:    size,
		CreatedAt:   time.Now().UTC().Add(-40 * 24 * time.Hour),
	}
	require.NoError(t, f.db.Frames().Insert(f.ctx, old))

	rule := &catalog.CleanupRule{RuleType: catalog.RuleMaxAgeDays, Value: 30, IsActive: true}
	require.NoError(t, f.db.CleanupRules().Create(f.ctx, rule))

	job, rep := startJob(t, f, catalog.JobCleanup, nil)
	result, err := f.deps.cleanupHandler(f.ctx, job, rep)
	require.NoError(t, err)
	require.Contains(t, result.Message, "Deleted 1 frames")

	_, err = f.db.Frames().Get(f.ctx, old.ID)
	require.True(t, catalog.ErrNotFound.Has(err))
	require.NoFileExists(t, old.FilePath)
}
