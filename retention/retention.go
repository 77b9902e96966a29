// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package retention applies cleanup rules to the frame catalog.
package retention

import (
	"context"
	"sort"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/storagedir"
)

var (
	// Error is the retention error class.
	Error = errs.Class("retention")

	mon = monkit.Package()
)

// SampleLimit caps the frame refs returned by Preview.
const SampleLimit = 100

// deleteBatch is how many rows are removed per transaction during Run.
const deleteBatch = 200

// Preview summarizes what a cleanup run would remove.
type Preview struct {
	FrameCount     int64             `json:"frame_count"`
	TotalSizeBytes int64             `json:"total_size_bytes"`
	Frames         []catalog.FrameRef `json:"frames"`
}

// Result reports what a cleanup run removed.
type Result struct {
	DeletedFrames int64 `json:"deleted_frames"`
	FreedBytes    int64 `json:"freed_bytes"`
}

// Engine evaluates cleanup rules.
type Engine struct {
	log *zap.Logger
	db  catalog.DB
	dir *storagedir.Dir
}

// NewEngine creates a retention engine.
func NewEngine(log *zap.Logger, db catalog.DB, dir *storagedir.Dir) *Engine {
	return &Engine{log: log, db: db, dir: dir}
}

// collect unions the per-rule candidate sets. Only slim refs are held in
// memory, never full rows.
func (engine *Engine) collect(ctx context.Context, now time.Time) (map[uuid.UUID]catalog.FrameRef, error) {
	rules, err := engine.db.CleanupRules().Active(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	selected := make(map[uuid.UUID]catalog.FrameRef)
	for _, rule := range rules {
		switch rule.RuleType {
		case catalog.RuleMaxAgeDays:
			cutoff := now.Add(-time.Duration(rule.Value*24) * time.Hour)
			err := engine.db.Frames().Stream(ctx, catalog.StreamFramesOptions{
				CreatedBefore:    &cutoff,
				ExcludeProtected: rule.ProtectCollections,
			}, func(ref catalog.FrameRef) error {
				selected[ref.ID] = ref
				return nil
			})
			if err != nil {
				return nil, Error.Wrap(err)
			}

		case catalog.RuleMaxStorageGB:
			total, err := engine.db.Frames().TotalSize(ctx)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			budget := int64(rule.Value * float64(1<<30))
			excess := total - budget
			if excess <= 0 {
				continue
			}
			var freed int64
			err = engine.db.Frames().Stream(ctx, catalog.StreamFramesOptions{
				ExcludeProtected: rule.ProtectCollections,
			}, func(ref catalog.FrameRef) error {
				if freed >= excess {
					return errStopStream.New("")
				}
				if _, dup := selected[ref.ID]; !dup {
					freed += ref.FileSize
				}
				selected[ref.ID] = ref
				return nil
			})
			if err != nil && !errStopStream.Has(err) {
				return nil, Error.Wrap(err)
			}

		default:
			engine.log.Warn("unknown cleanup rule type", zap.String("type", string(rule.RuleType)))
		}
	}
	return selected, nil
}

var errStopStream = errs.Class("stop stream")

// Preview reports the would-be deletions without mutating anything.
func (engine *Engine) Preview(ctx context.Context, now time.Time) (_ Preview, err error) {
	defer mon.Task()(&ctx)(&err)

	selected, err := engine.collect(ctx, now)
	if err != nil {
		return Preview{}, err
	}

	preview := Preview{Frames: []catalog.FrameRef{}}
	refs := sortedRefs(selected)
	for _, ref := range refs {
		preview.FrameCount++
		preview.TotalSizeBytes += ref.FileSize
		if len(preview.Frames) < SampleLimit {
			preview.Frames = append(preview.Frames, ref)
		}
	}
	return preview, nil
}

// Run deletes the selected frames' files (best-effort) and rows.
func (engine *Engine) Run(ctx context.Context, now time.Time) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	selected, err := engine.collect(ctx, now)
	if err != nil {
		return Result{}, err
	}
	refs := sortedRefs(selected)

	var result Result
	for start := 0; start < len(refs); start += deleteBatch {
		end := start + deleteBatch
		if end > len(refs) {
			end = len(refs)
		}
		ids := make([]uuid.UUID, 0, end-start)
		for _, ref := range refs[start:end] {
			if err := engine.dir.Remove(ref.FilePath); err != nil {
				engine.log.Warn("file removal failed", zap.String("path", ref.FilePath), zap.Error(err))
			}
			if err := engine.dir.Remove(ref.ThumbnailPath); err != nil {
				engine.log.Warn("thumbnail removal failed", zap.String("path", ref.ThumbnailPath), zap.Error(err))
			}
			ids = append(ids, ref.ID)
		}
		deleted, err := engine.db.Frames().Delete(ctx, ids)
		if err != nil {
			return result, Error.Wrap(err)
		}
		for _, ref := range deleted {
			result.DeletedFrames++
			result.FreedBytes += ref.FileSize
		}
	}
	return result, nil
}

// sortedRefs orders the union oldest-first so deletion order matches the
// storage-budget selection order.
func sortedRefs(selected map[uuid.UUID]catalog.FrameRef) []catalog.FrameRef {
	refs := make([]catalog.FrameRef, 0, len(selected))
	for _, ref := range selected {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].CreatedAt.Equal(refs[j].CreatedAt) {
			return refs[i].ID.String() < refs[j].ID.String()
		}
		return refs[i].CreatedAt.Before(refs[j].CreatedAt)
	})
	return refs
}
