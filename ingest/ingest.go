// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package ingest runs the GOES fetch pipeline: enumerate bucket objects,
// cap, download, convert to PNG, and persist catalog rows.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/gaps"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/ingest/netcdfimg"
	"github.com/goeswatch/goeswatch/objectstore"
	"github.com/goeswatch/goeswatch/storagedir"
)

var (
	// Error is the ingest error class.
	Error = errs.Class("ingest")
	// ErrDiskFull aborts a job when free space drops below the threshold.
	ErrDiskFull = errs.Class("disk threshold")

	mon = monkit.Package()
)

// Config tunes the pipeline.
type Config struct {
	MinFreeBytes   uint64  `help:"abort downloads when free disk drops below this" default:"1073741824"`
	ThumbnailWidth int     `help:"thumbnail width in pixels" default:"320"`
	GapTolerance   float64 `help:"interval multiplier before a missing frame counts as a gap" default:"1.5"`
}

// Request is one fetch window.
type Request struct {
	Satellite goes.Satellite
	Sector    goes.Sector
	Band      goes.Band
	Start     time.Time
	End       time.Time
	JobID     uuid.UUID
}

// CollectionName is the auto-created collection for a fetch.
func (req Request) CollectionName() string {
	return fmt.Sprintf("GOES Fetch %s %s %s", req.Satellite, req.Band, req.Sector)
}

// Tally counts pipeline results.
type Tally struct {
	Fetched        int
	Failed         int
	TotalAvailable int
	Capped         bool
	CapLimit       int
}

// Outcome is the job-facing result.
type Outcome struct {
	Status  catalog.JobStatus
	Message string
	Tally   Tally
}

// Progress receives percentage and message updates between frames.
type Progress func(progress int, message string)

// Service is the ingestion pipeline.
type Service struct {
	log    *zap.Logger
	store  objectstore.Store
	db     catalog.DB
	dir    *storagedir.Dir
	config Config
}

// NewService creates the pipeline.
func NewService(log *zap.Logger, store objectstore.Store, db catalog.DB, dir *storagedir.Dir, config Config) *Service {
	if config.ThumbnailWidth <= 0 {
		config.ThumbnailWidth = 320
	}
	if config.GapTolerance <= 0 {
		config.GapTolerance = gaps.DefaultTolerance
	}
	return &Service{log: log, store: store, db: db, dir: dir, config: config}
}

// Enumerate lists every matching object in the window, ascending by scan
// time.
func (service *Service) Enumerate(ctx context.Context, req Request) (_ []goes.Object, err error) {
	defer mon.Task()(&ctx)(&err)

	bucket := req.Satellite.Bucket()
	if bucket == "" {
		return nil, Error.New("unknown satellite %q", req.Satellite)
	}

	var matched []goes.Object
	for _, prefix := range goes.HourPrefixes(req.Sector, req.Start, req.End) {
		objects, err := service.store.List(ctx, bucket, prefix)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		for _, obj := range objects {
			if !goes.MatchKey(obj.Key, req.Sector, req.Band) {
				continue
			}
			scan, err := goes.ParseScanTime(obj.Key)
			if err != nil {
				service.log.Debug("skipping unparsable key", zap.String("key", obj.Key), zap.Error(err))
				continue
			}
			if scan.Before(req.Start) || scan.After(req.End) {
				continue
			}
			matched = append(matched, goes.Object{Key: obj.Key, Size: obj.Size, ScanTime: scan})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ScanTime.Before(matched[j].ScanTime) })
	return matched, nil
}

// Fetch runs the full pipeline for one window.
func (service *Service) Fetch(ctx context.Context, req Request, progress Progress) (_ Outcome, err error) {
	defer mon.Task()(&ctx)(&err)

	if progress == nil {
		progress = func(int, string) {}
	}

	progress(0, "Listing bucket objects")
	objects, err := service.Enumerate(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	tally := Tally{TotalAvailable: len(objects)}

	limit, err := service.db.Settings().MaxFramesPerFetch(ctx)
	if err != nil {
		return Outcome{}, Error.Wrap(err)
	}
	tally.CapLimit = limit
	if len(objects) > limit {
		objects = objects[:limit]
		tally.Capped = true
	}

	outDir, err := service.dir.JobOutput(req.JobID)
	if err != nil {
		return Outcome{}, Error.Wrap(err)
	}

	var frames []*catalog.Frame
	for i, obj := range objects {
		if err := ctx.Err(); err != nil {
			return Outcome{}, Error.Wrap(err)
		}
		progress(percent(i, len(objects)), fmt.Sprintf("Downloading frame %d/%d", i+1, len(objects)))

		frame, err := service.fetchOne(ctx, req, obj, outDir)
		if err != nil {
			if ErrDiskFull.Has(err) || objectstore.ErrCircuitOpen.Has(err) {
				return Outcome{}, err
			}
			tally.Failed++
			service.log.Warn("frame failed", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		frames = append(frames, frame)
	}

	if len(frames) > 0 {
		progress(95, "Persisting catalog rows")
		if err := service.db.Frames().CommitBatch(ctx, frames, req.CollectionName()); err != nil {
			return Outcome{}, Error.Wrap(err)
		}
	}
	tally.Fetched = len(frames)

	return Report(req, tally), nil
}

// fetchOne downloads, converts and stages a single frame.
func (service *Service) fetchOne(ctx context.Context, req Request, obj goes.Object, outDir string) (*catalog.Frame, error) {
	free, err := service.dir.FreeBytes(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if free < service.config.MinFreeBytes+uint64(obj.Size) {
		return nil, ErrDiskFull.New("%d bytes free, need %d", free, service.config.MinFreeBytes+uint64(obj.Size))
	}

	temp, err := os.CreateTemp(service.dir.Temp(), "goes-*.nc")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	tempPath := temp.Name()
	_ = temp.Close()
	defer func() { _ = os.Remove(tempPath) }()

	if _, err := service.store.Download(ctx, req.Satellite.Bucket(), obj.Key, tempPath); err != nil {
		return nil, err
	}

	img, err := netcdfimg.Decode(tempPath)
	if err != nil {
		if !netcdfimg.ErrUnavailable.Has(err) {
			return nil, err
		}
		img = netcdfimg.Placeholder()
	}

	name := frameFileName(req, obj.ScanTime)
	framePath := filepath.Join(outDir, name)
	if err := writePNG(framePath, img); err != nil {
		return nil, err
	}

	thumbPath := filepath.Join(service.dir.Thumbnails(), name)
	if err := writePNG(thumbPath, thumbnail(img, service.config.ThumbnailWidth)); err != nil {
		service.log.Warn("thumbnail failed", zap.String("key", obj.Key), zap.Error(err))
		thumbPath = ""
	}

	info, err := os.Stat(framePath)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	jobID := req.JobID
	return &catalog.Frame{
		Satellite:     req.Satellite,
		Sector:        req.Sector,
		Band:          req.Band,
		CaptureTime:   obj.ScanTime,
		FilePath:      framePath,
		FileSize:      info.Size(),
		Width:         img.Bounds().Dx(),
		Height:        img.Bounds().Dy(),
		ThumbnailPath: thumbPath,
		SourceJobID:   &jobID,
	}, nil
}

func frameFileName(req Request, scan time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.png",
		req.Satellite, req.Sector, req.Band, scan.UTC().Format("20060102T150405Z"))
}

func percent(done, total int) int {
	if total == 0 {
		return 0
	}
	p := done * 90 / total
	if p > 90 {
		p = 90
	}
	return p
}

// Report derives the terminal status and message from the tally.
func Report(req Request, tally Tally) Outcome {
	switch {
	case tally.Fetched == 0 && tally.TotalAvailable == 0:
		msg := fmt.Sprintf("No frames found for %s %s %s between %s and %s.",
			req.Satellite, req.Sector, req.Band,
			req.Start.UTC().Format(time.RFC3339), req.End.UTC().Format(time.RFC3339))
		if hint := goes.AvailabilityHint(req.Satellite, req.Start, req.End); hint != "" {
			msg += " " + hint
		}
		return Outcome{Status: catalog.JobFailed, Message: msg, Tally: tally}

	case tally.Fetched == 0 && tally.Failed > 0:
		return Outcome{
			Status:  catalog.JobFailed,
			Message: fmt.Sprintf("All %d frames failed to download", tally.Failed),
			Tally:   tally,
		}

	case tally.Failed == 0 && !tally.Capped:
		return Outcome{
			Status:  catalog.JobCompleted,
			Message: fmt.Sprintf("Fetched %d frames", tally.Fetched),
			Tally:   tally,
		}

	case tally.Failed == 0 && tally.Capped:
		return Outcome{
			Status: catalog.JobCompletedPartial,
			Message: fmt.Sprintf("Fetched %d of %d available frames (frame limit: %d)",
				tally.Fetched, tally.TotalAvailable, tally.CapLimit),
			Tally: tally,
		}

	default:
		beyond := 0
		if tally.Capped {
			beyond = tally.TotalAvailable - tally.CapLimit
		}
		return Outcome{
			Status: catalog.JobCompletedPartial,
			Message: fmt.Sprintf("Fetched %d frames (%d failed, %d beyond limit %d)",
				tally.Fetched, tally.Failed, beyond, tally.CapLimit),
			Tally: tally,
		}
	}
}

// BackfillRequest fills gaps in existing coverage.
type BackfillRequest struct {
	Satellite       goes.Satellite
	Sector          goes.Sector
	Band            goes.Band
	IntervalMinutes int
	JobID           uuid.UUID
}

// Backfill detects gaps and runs the forward pipeline per gap. A failed
// gap does not abort the remaining ones.
func (service *Service) Backfill(ctx context.Context, req BackfillRequest, progress Progress) (_ Outcome, err error) {
	defer mon.Task()(&ctx)(&err)

	if progress == nil {
		progress = func(int, string) {}
	}
	if req.IntervalMinutes <= 0 {
		req.IntervalMinutes = req.Sector.CadenceMinutes()
	}

	times, err := service.db.Frames().CaptureTimes(ctx, catalog.GapFilter{
		Satellite: req.Satellite, Sector: req.Sector, Band: req.Band,
	})
	if err != nil {
		return Outcome{}, Error.Wrap(err)
	}
	report, err := gaps.Detect(times, time.Duration(req.IntervalMinutes)*time.Minute, service.config.GapTolerance)
	if err != nil {
		return Outcome{}, Error.Wrap(err)
	}
	if report.GapCount == 0 {
		return Outcome{
			Status:  catalog.JobCompleted,
			Message: "No gaps detected",
		}, nil
	}

	var total Tally
	for i, gap := range report.Gaps {
		if err := ctx.Err(); err != nil {
			return Outcome{}, Error.Wrap(err)
		}
		progress(i*100/report.GapCount, fmt.Sprintf("Filling gap %d/%d", i+1, report.GapCount))

		outcome, err := service.Fetch(ctx, Request{
			Satellite: req.Satellite,
			Sector:    req.Sector,
			Band:      req.Band,
			Start:     gap.Start,
			End:       gap.End,
			JobID:     req.JobID,
		}, nil)
		if err != nil {
			service.log.Warn("gap fill failed",
				zap.Time("start", gap.Start), zap.Time("end", gap.End), zap.Error(err))
			total.Failed++
			continue
		}
		total.Fetched += outcome.Tally.Fetched
		total.Failed += outcome.Tally.Failed
		total.TotalAvailable += outcome.Tally.TotalAvailable
		total.Capped = total.Capped || outcome.Tally.Capped
		total.CapLimit = outcome.Tally.CapLimit
	}

	status := catalog.JobCompleted
	if total.Failed > 0 || total.Capped {
		status = catalog.JobCompletedPartial
	}
	return Outcome{
		Status: status,
		Message: fmt.Sprintf("Backfilled %d frames across %d gaps (%d failed)",
			total.Fetched, report.GapCount, total.Failed),
		Tally: total,
	}, nil
}
