// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package ingest_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/catalog/catalogdb"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/ingest"
	"github.com/goeswatch/goeswatch/objectstore"
	"github.com/goeswatch/goeswatch/storagedir"
)

type bucketStub struct {
	objects map[string][]objectstore.Object // prefix -> objects
	fail    map[string]bool                 // keys whose download fails
}

func (s *bucketStub) List(ctx context.Context, bucket, prefix string) ([]objectstore.Object, error) {
	return s.objects[prefix], nil
}

func (s *bucketStub) Download(ctx context.Context, bucket, key, dest string) (int64, error) {
	if s.fail[key] {
		return 0, fmt.Errorf("read timeout on %s", key)
	}
	data := []byte("not really netcdf")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func conusKey(scan string) string {
	return "ABI-L2-CMIPC/2024/166/12/OR_ABI-L2-CMIPC-M6C13_G19_s" + scan + "_e20241661200300_c20241661200350.nc"
}

func testService(t *testing.T, stub *bucketStub) (context.Context, *ingest.Service, catalog.DB) {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	db, err := catalogdb.Open(ctx, log, ":memory:", catalogdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.EnsureSchema(ctx))

	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	service := ingest.NewService(log, stub, db, dir, ingest.Config{MinFreeBytes: 1})
	return ctx, service, db
}

func testRequest(t *testing.T) ingest.Request {
	t.Helper()
	jobID, err := uuid.New()
	require.NoError(t, err)
	return ingest.Request{
		Satellite: goes.GOES19,
		Sector:    goes.CONUS,
		Band:      goes.Band("C13"),
		Start:     time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 14, 12, 59, 0, 0, time.UTC),
		JobID:     jobID,
	}
}

func TestFetchCataloguesPlaceholderFrames(t *testing.T) {
	stub := &bucketStub{objects: map[string][]objectstore.Object{
		"ABI-L2-CMIPC/2024/166/12/": {
			{Key: conusKey("20241661210216"), Size: 17},
			{Key: conusKey("20241661200216"), Size: 17},
			// Wrong band, must be filtered out.
			{Key: "ABI-L2-CMIPC/2024/166/12/OR_ABI-L2-CMIPC-M6C02_G19_s20241661205216_e0_c0.nc", Size: 17},
		},
	}}
	ctx, service, db := testService(t, stub)
	req := testRequest(t)

	var lastProgress int
	outcome, err := service.Fetch(ctx, req, func(p int, msg string) { lastProgress = p })
	require.NoError(t, err)

	require.Equal(t, catalog.JobCompleted, outcome.Status)
	require.Equal(t, "Fetched 2 frames", outcome.Message)
	require.Equal(t, 2, outcome.Tally.Fetched)
	require.Equal(t, 95, lastProgress)

	// Builds without the netcdf tag catalogue placeholder images.
	frames, total, err := db.Frames().List(ctx, catalog.ListFramesOptions{SortKey: catalog.SortCaptureTime})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Equal(t, 100, frames[0].Width)
	require.Equal(t, 100, frames[0].Height)
	require.FileExists(t, frames[0].FilePath)
	require.FileExists(t, frames[0].ThumbnailPath)
	// Ascending by capture time.
	require.True(t, frames[0].CaptureTime.Before(frames[1].CaptureTime))

	// The auto-collection was created and populated.
	col, err := db.Collections().GetByName(ctx, "GOES Fetch GOES-19 C13 CONUS")
	require.NoError(t, err)
	require.Equal(t, 2, col.FrameCount)
}

func TestFetchCapAndPartial(t *testing.T) {
	var objects []objectstore.Object
	for i := 0; i < 5; i++ {
		objects = append(objects, objectstore.Object{
			Key:  conusKey(fmt.Sprintf("202416612%02d216", 20+i)),
			Size: 17,
		})
	}
	stub := &bucketStub{objects: map[string][]objectstore.Object{}}
	stub.objects["ABI-L2-CMIPC/2024/166/12/"] = objects

	ctx, service, db := testService(t, stub)
	require.NoError(t, db.Settings().Set(ctx, catalog.SettingMaxFramesPerFetch, "3"))

	req := testRequest(t)
	req.End = time.Date(2024, 6, 14, 12, 59, 59, 0, time.UTC)

	outcome, err := service.Fetch(ctx, req, nil)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompletedPartial, outcome.Status)
	require.Equal(t, 3, outcome.Tally.Fetched)
	require.True(t, outcome.Tally.Capped)
	require.Contains(t, outcome.Message, "frame limit: 3")
}

func TestFetchPerFrameFailuresContinue(t *testing.T) {
	keys := []string{conusKey("20241661200216"), conusKey("20241661210216"), conusKey("20241661220216")}
	stub := &bucketStub{
		objects: map[string][]objectstore.Object{"ABI-L2-CMIPC/2024/166/12/": {
			{Key: keys[0], Size: 17}, {Key: keys[1], Size: 17}, {Key: keys[2], Size: 17},
		}},
		fail: map[string]bool{keys[1]: true},
	}
	ctx, service, _ := testService(t, stub)

	outcome, err := service.Fetch(ctx, testRequest(t), nil)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompletedPartial, outcome.Status)
	require.Equal(t, 2, outcome.Tally.Fetched)
	require.Equal(t, 1, outcome.Tally.Failed)
}

func TestFetchEmptyWindowFailsWithHint(t *testing.T) {
	stub := &bucketStub{objects: map[string][]objectstore.Object{}}
	ctx, service, _ := testService(t, stub)

	req := testRequest(t)
	req.Satellite = goes.GOES16
	req.Start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req.End = req.Start.Add(time.Hour)

	outcome, err := service.Fetch(ctx, req, nil)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, outcome.Status)
	require.Contains(t, outcome.Message, "No frames found")
	// GOES-16 stopped publishing in 2025; the hint explains the empty listing.
	require.Contains(t, outcome.Message, "GOES-16")
}

func TestReportTable(t *testing.T) {
	req := testRequest(t)

	tests := []struct {
		tally   ingest.Tally
		status  catalog.JobStatus
		message string
	}{
		{ingest.Tally{TotalAvailable: 3, Failed: 3, CapLimit: 200}, catalog.JobFailed, "All 3 frames failed to download"},
		{ingest.Tally{TotalAvailable: 10, Failed: 2, Capped: true, CapLimit: 2}, catalog.JobFailed, "All 2 frames failed to download"},
		{ingest.Tally{Fetched: 4, TotalAvailable: 4, CapLimit: 200}, catalog.JobCompleted, "Fetched 4 frames"},
		{ingest.Tally{Fetched: 3, TotalAvailable: 10, Capped: true, CapLimit: 3}, catalog.JobCompletedPartial, "Fetched 3 of 10 available frames (frame limit: 3)"},
		{ingest.Tally{Fetched: 2, Failed: 1, TotalAvailable: 10, Capped: true, CapLimit: 3}, catalog.JobCompletedPartial, "Fetched 2 frames (1 failed, 7 beyond limit 3)"},
		{ingest.Tally{Fetched: 2, Failed: 1, TotalAvailable: 3, CapLimit: 200}, catalog.JobCompletedPartial, "Fetched 2 frames (1 failed, 0 beyond limit 200)"},
	}
	for _, tt := range tests {
		outcome := ingest.Report(req, tt.tally)
		require.Equal(t, tt.status, outcome.Status, tt.message)
		require.Equal(t, tt.message, outcome.Message)
	}
}

func TestBackfillFillsGaps(t *testing.T) {
	stub := &bucketStub{objects: map[string][]objectstore.Object{
		"ABI-L2-CMIPC/2024/166/12/": {{Key: conusKey("20241661230216"), Size: 17}},
	}}
	ctx, service, db := testService(t, stub)

	// Existing coverage 12:00 and 12:05, then a hole until 12:45.
	base := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	for _, offset := range []int{0, 5, 45} {
		require.NoError(t, db.Frames().Insert(ctx, &catalog.Frame{
			Satellite: goes.GOES19, Sector: goes.CONUS, Band: goes.Band("C13"),
			CaptureTime: base.Add(time.Duration(offset) * time.Minute),
			FilePath:    "/data/existing.png",
		}))
	}

	jobID, err := uuid.New()
	require.NoError(t, err)
	outcome, err := service.Backfill(ctx, ingest.BackfillRequest{
		Satellite: goes.GOES19, Sector: goes.CONUS, Band: goes.Band("C13"),
		IntervalMinutes: 5, JobID: jobID,
	}, nil)
	require.NoError(t, err)

	// The 12:30 object inside the gap was fetched.
	require.Equal(t, 1, outcome.Tally.Fetched)
	require.Contains(t, outcome.Message, "across 1 gaps")
}

func TestBackfillNoGaps(t *testing.T) {
	stub := &bucketStub{objects: map[string][]objectstore.Object{}}
	ctx, service, _ := testService(t, stub)

	jobID, err := uuid.New()
	require.NoError(t, err)
	outcome, err := service.Backfill(ctx, ingest.BackfillRequest{
		Satellite: goes.GOES19, Sector: goes.CONUS, Band: goes.Band("C13"),
		IntervalMinutes: 5, JobID: jobID,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCompleted, outcome.Status)
	require.Equal(t, "No gaps detected", outcome.Message)
}
