// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/ingest"
	"github.com/goeswatch/goeswatch/jobs"
	"github.com/goeswatch/goeswatch/render"
)

func (deps Deps) compositeGenerateHandler(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (_ jobs.Result, err error) {
	defer mon.Task()(&ctx)(&err)

	compositeID, err := uuidParam(job.Params, "composite_id")
	if err != nil {
		return jobs.Result{}, err
	}
	recipe, err := render.RecipeFor(stringParam(job.Params, "recipe"))
	if err != nil {
		return jobs.Result{}, err
	}
	satellite, err := goes.ParseSatellite(stringParam(job.Params, "satellite"))
	if err != nil {
		return jobs.Result{}, err
	}
	sector, err := goes.ParseSector(stringParam(job.Params, "sector"))
	if err != nil {
		return jobs.Result{}, err
	}
	captureTime, err := timeParam(job.Params, "capture_time")
	if err != nil {
		return jobs.Result{}, err
	}

	path, size, missing, err := deps.generate(ctx, job, rep, recipe, satellite, sector, captureTime)
	if err != nil {
		if updateErr := deps.DB.Artifacts().UpdateComposite(ctx, compositeID, catalog.JobFailed, "", 0); updateErr != nil {
			deps.Log.Warn("composite status update failed")
		}
		return jobs.Result{}, err
	}
	if err := deps.DB.Artifacts().UpdateComposite(ctx, compositeID, catalog.JobCompleted, path, size); err != nil {
		return jobs.Result{}, Error.Wrap(err)
	}
	if err := deps.DB.Jobs().SetOutputPath(ctx, job.ID, path); err != nil {
		deps.Log.Warn("output path update failed")
	}

	message := fmt.Sprintf("Generated %s composite", recipe.Name)
	if missing > 0 {
		message = fmt.Sprintf("Generated %s composite (%d of 3 bands missing)", recipe.Name, missing)
		return jobs.Result{Status: catalog.JobCompletedPartial, Message: message}, nil
	}
	return jobs.Result{Message: message}, nil
}

// generate renders one composite next to the job's output directory and
// returns its path, size and how many channels had no frame.
func (deps Deps) generate(ctx context.Context, job *catalog.Job, rep *jobs.Reporter, recipe render.Recipe, satellite goes.Satellite, sector goes.Sector, captureTime time.Time) (path string, size int64, missing int, err error) {
	var channels [3]*image.Gray
	for i, band := range recipe.Bands {
		rep.Progress(ctx, 10+i*25, fmt.Sprintf("Loading band %s", band))

		frame, err := deps.DB.Frames().Nearest(ctx, satellite, sector, band, captureTime)
		if err != nil {
			if catalog.ErrNotFound.Has(err) {
				missing++
				continue
			}
			return "", 0, 0, Error.Wrap(err)
		}
		resolved, err := deps.Dir.Resolve(frame.FilePath)
		if err != nil {
			return "", 0, 0, err
		}
		gray, err := loadGray(resolved)
		if err != nil {
			deps.Log.Warn("channel decode failed, rendering black")
			missing++
			continue
		}
		channels[i] = gray
	}

	rep.Progress(ctx, 85, "Compositing channels")
	img, err := render.Compose(channels)
	if err != nil {
		return "", 0, 0, err
	}

	outDir, err := deps.Dir.JobOutput(job.ID)
	if err != nil {
		return "", 0, 0, err
	}
	path = filepath.Join(outDir, fmt.Sprintf("composite_%s.png", recipe.Name))
	size, err = savePNG(img, path)
	if err != nil {
		return "", 0, 0, err
	}
	return path, size, missing, nil
}

func (deps Deps) compositeFetchHandler(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (_ jobs.Result, err error) {
	defer mon.Task()(&ctx)(&err)

	recipe, err := render.RecipeFor(stringParam(job.Params, "recipe"))
	if err != nil {
		return jobs.Result{}, err
	}
	satellite, err := goes.ParseSatellite(stringParam(job.Params, "satellite"))
	if err != nil {
		return jobs.Result{}, err
	}
	sector, err := goes.ParseSector(stringParam(job.Params, "sector"))
	if err != nil {
		return jobs.Result{}, err
	}
	start, err := timeParam(job.Params, "start")
	if err != nil {
		return jobs.Result{}, err
	}
	end, err := timeParam(job.Params, "end")
	if err != nil {
		return jobs.Result{}, err
	}

	fetched := 0
	for i, band := range recipe.Bands {
		base := i * 25
		outcome, err := deps.Ingest.Fetch(ctx, ingest.Request{
			Satellite: satellite,
			Sector:    sector,
			Band:      band,
			Start:     start,
			End:       end,
			JobID:     job.ID,
		}, func(progress int, message string) {
			rep.Progress(ctx, base+progress/4, message)
		})
		if err != nil {
			return jobs.Result{}, err
		}
		fetched += outcome.Tally.Fetched
	}

	composite := &catalog.Composite{
		JobID:       job.ID,
		Status:      catalog.JobProcessing,
		Recipe:      recipe.Name,
		Satellite:   satellite,
		Sector:      sector,
		CaptureTime: end,
	}
	if err := deps.DB.Artifacts().CreateComposite(ctx, composite); err != nil {
		return jobs.Result{}, Error.Wrap(err)
	}

	path, size, missing, err := deps.generate(ctx, job, rep, recipe, satellite, sector, end)
	if err != nil {
		if updateErr := deps.DB.Artifacts().UpdateComposite(ctx, composite.ID, catalog.JobFailed, "", 0); updateErr != nil {
			deps.Log.Warn("composite status update failed")
		}
		return jobs.Result{}, err
	}
	if err := deps.DB.Artifacts().UpdateComposite(ctx, composite.ID, catalog.JobCompleted, path, size); err != nil {
		return jobs.Result{}, Error.Wrap(err)
	}
	if err := deps.DB.Jobs().SetOutputPath(ctx, job.ID, path); err != nil {
		deps.Log.Warn("output path update failed")
	}

	status := catalog.JobCompleted
	message := fmt.Sprintf("Fetched %d frames and generated %s composite", fetched, recipe.Name)
	if missing > 0 {
		status = catalog.JobCompletedPartial
		message = fmt.Sprintf("Fetched %d frames; %s composite missing %d of 3 bands", fetched, recipe.Name, missing)
	}
	return jobs.Result{Status: status, Message: message}, nil
}
