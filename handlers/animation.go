// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/jobs"
	"github.com/goeswatch/goeswatch/render"
)

// animationFrameLimit caps query-resolved animations; explicit id lists
// are taken as-is.
const animationFrameLimit = 1000

func (deps Deps) animationHandler(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (_ jobs.Result, err error) {
	defer mon.Task()(&ctx)(&err)

	animationID, err := uuidParam(job.Params, "animation_id")
	if err != nil {
		return jobs.Result{}, err
	}

	fail := func(err error) (jobs.Result, error) {
		if updateErr := deps.DB.Artifacts().UpdateAnimation(ctx, animationID, catalog.JobFailed, "", 0); updateErr != nil {
			deps.Log.Warn("animation status update failed")
		}
		return jobs.Result{}, err
	}

	frames, err := deps.resolveAnimationFrames(ctx, job.Params)
	if err != nil {
		return fail(err)
	}
	if len(frames) == 0 {
		return fail(Error.New("no frames match the animation request"))
	}

	fps := intParam(job.Params, "fps", 10)
	format := stringParam(job.Params, "format")
	if format == "" {
		format = "mp4"
	}
	if format != "mp4" && format != "gif" {
		return fail(Error.New("unsupported format %q", format))
	}
	quality := render.Quality(stringParam(job.Params, "quality"))
	if _, err := quality.CRF(); err != nil {
		return fail(err)
	}
	loopStyle, err := render.ParseLoopStyle(stringParam(job.Params, "loop_style"))
	if err != nil {
		return fail(err)
	}
	scale := floatParam(job.Params, "scale", 1.0)
	previewWidth := intParam(job.Params, "preview_width", 0)
	crop, hasCrop, err := deps.resolveCrop(ctx, job.Params)
	if err != nil {
		return fail(err)
	}

	staging, err := os.MkdirTemp(deps.Dir.Temp(), "anim-*")
	if err != nil {
		return fail(Error.Wrap(err))
	}
	defer func() { _ = os.RemoveAll(staging) }()

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		rep.Progress(ctx, 5+i*70/len(frames), fmt.Sprintf("Processing frame %d/%d", i+1, len(frames)))

		img, err := deps.processFrame(frame, crop, hasCrop, scale, previewWidth)
		if err != nil {
			return fail(err)
		}
		if _, err := savePNG(img, filepath.Join(staging, fmt.Sprintf("src_%05d.png", i))); err != nil {
			return fail(err)
		}
	}

	// Lay the loop order out as a hard-linked sequence so the encoder
	// sees plain numbered files.
	order := render.ApplyLoop(len(frames), fps, loopStyle)
	seqDir, err := os.MkdirTemp(deps.Dir.Temp(), "seq-*")
	if err != nil {
		return fail(Error.Wrap(err))
	}
	defer func() { _ = os.RemoveAll(seqDir) }()
	for j, idx := range order {
		src := filepath.Join(staging, fmt.Sprintf("src_%05d.png", idx))
		if err := os.Link(src, filepath.Join(seqDir, render.SequenceFileName(j))); err != nil {
			return fail(Error.Wrap(err))
		}
	}

	rep.Progress(ctx, 85, "Encoding animation")
	outDir, err := deps.Dir.JobOutput(job.ID)
	if err != nil {
		return fail(err)
	}
	output := filepath.Join(outDir, "animation."+format)
	switch format {
	case "mp4":
		err = deps.Encoder.EncodeMP4(ctx, seqDir, output, fps, quality)
	case "gif":
		err = deps.Encoder.EncodeGIF(ctx, seqDir, output, fps)
	}
	if err != nil {
		return fail(err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return fail(Error.Wrap(err))
	}
	if err := deps.DB.Artifacts().UpdateAnimation(ctx, animationID, catalog.JobCompleted, output, info.Size()); err != nil {
		return jobs.Result{}, Error.Wrap(err)
	}
	if err := deps.DB.Jobs().SetOutputPath(ctx, job.ID, output); err != nil {
		deps.Log.Warn("output path update failed")
	}

	return jobs.Result{Message: fmt.Sprintf("Rendered %s animation from %d frames", format, len(frames))}, nil
}

func (deps Deps) processFrame(frame catalog.Frame, crop render.Crop, hasCrop bool, scale float64, previewWidth int) (image.Image, error) {
	resolved, err := deps.Dir.Resolve(frame.FilePath)
	if err != nil {
		return nil, err
	}
	img, err := loadImage(resolved)
	if err != nil {
		return nil, err
	}
	if hasCrop {
		img, err = render.ApplyCrop(img, crop)
		if err != nil {
			return nil, err
		}
	}
	bounds := img.Bounds()
	width, height, err := render.ScaledSize(bounds.Dx(), bounds.Dy(), scale)
	if err != nil {
		return nil, err
	}
	if previewWidth > 0 && width > previewWidth {
		height = height * previewWidth / width
		if height < 1 {
			height = 1
		}
		width = previewWidth
	}
	if width != bounds.Dx() || height != bounds.Dy() {
		img = render.Resize(img, width, height)
	}
	return img, nil
}

// resolveAnimationFrames turns the job params into a capture-time
// ordered frame list. Inputs are either explicit ids, a collection, a
// recent-hours window or a filter query.
func (deps Deps) resolveAnimationFrames(ctx context.Context, params map[string]any) ([]catalog.Frame, error) {
	ids, err := uuidListParam(params, "frame_ids")
	if err != nil {
		return nil, err
	}
	if collectionRaw := stringParam(params, "collection_id"); len(ids) == 0 && collectionRaw != "" {
		collectionID, err := uuidParam(params, "collection_id")
		if err != nil {
			return nil, err
		}
		ids, err = deps.DB.Collections().FrameIDs(ctx, collectionID)
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}
	if len(ids) > 0 {
		frames := make([]catalog.Frame, 0, len(ids))
		for _, id := range ids {
			frame, err := deps.DB.Frames().Get(ctx, id)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			frames = append(frames, *frame)
		}
		sort.Slice(frames, func(i, j int) bool {
			return frames[i].CaptureTime.Before(frames[j].CaptureTime)
		})
		return frames, nil
	}

	opts := catalog.ListFramesOptions{
		Satellite: goes.Satellite(stringParam(params, "satellite")),
		Sector:    goes.Sector(stringParam(params, "sector")),
		Band:      goes.Band(stringParam(params, "band")),
		SortKey:   catalog.SortCaptureTime,
		Limit:     animationFrameLimit,
	}
	if hours := intParam(params, "hours", 0); hours > 0 {
		start := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		opts.Start = &start
	} else {
		start, err := timeParam(params, "start")
		if err != nil {
			return nil, err
		}
		end, err := timeParam(params, "end")
		if err != nil {
			return nil, err
		}
		opts.Start, opts.End = &start, &end
	}

	frames, _, err := deps.DB.Frames().List(ctx, opts)
	return frames, Error.Wrap(err)
}

// resolveCrop reads an inline crop window, falling back to a stored
// crop preset when only crop_preset_id is given.
func (deps Deps) resolveCrop(ctx context.Context, params map[string]any) (render.Crop, bool, error) {
	raw := mapParam(params, "crop")
	if raw == nil {
		presetRaw := stringParam(params, "crop_preset_id")
		if presetRaw == "" {
			return render.Crop{}, false, nil
		}
		presetID, err := uuidParam(params, "crop_preset_id")
		if err != nil {
			return render.Crop{}, false, err
		}
		preset, err := deps.DB.Presets().Get(ctx, presetID)
		if err != nil {
			return render.Crop{}, false, Error.Wrap(err)
		}
		if preset.Kind != catalog.PresetCrop {
			return render.Crop{}, false, Error.New("preset %s is %s, not a crop preset", presetID, preset.Kind)
		}
		raw = preset.Params
	}
	crop := render.Crop{
		X:      intParam(raw, "x", 0),
		Y:      intParam(raw, "y", 0),
		Width:  intParam(raw, "width", 0),
		Height: intParam(raw, "height", 0),
	}
	if crop.Width <= 0 || crop.Height <= 0 {
		return render.Crop{}, false, Error.New("crop needs positive width and height")
	}
	return crop, true, nil
}

func (deps Deps) imageProcessHandler(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (_ jobs.Result, err error) {
	defer mon.Task()(&ctx)(&err)

	frameID, err := uuidParam(job.Params, "frame_id")
	if err != nil {
		return jobs.Result{}, err
	}
	frame, err := deps.DB.Frames().Get(ctx, frameID)
	if err != nil {
		return jobs.Result{}, Error.Wrap(err)
	}

	scale := floatParam(job.Params, "scale", 1.0)
	crop, hasCrop, err := deps.resolveCrop(ctx, job.Params)
	if err != nil {
		return jobs.Result{}, err
	}

	rep.Progress(ctx, 30, "Processing image")
	img, err := deps.processFrame(*frame, crop, hasCrop, scale, 0)
	if err != nil {
		return jobs.Result{}, err
	}

	outDir, err := deps.Dir.JobOutput(job.ID)
	if err != nil {
		return jobs.Result{}, err
	}
	output := filepath.Join(outDir, "processed_"+frameID.String()+".png")
	if _, err := savePNG(img, output); err != nil {
		return jobs.Result{}, err
	}
	if err := deps.DB.Jobs().SetOutputPath(ctx, job.ID, output); err != nil {
		deps.Log.Warn("output path update failed")
	}
	return jobs.Result{Message: "Processed 1 frame"}, nil
}
