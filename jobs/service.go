// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/events"
	"github.com/goeswatch/goeswatch/storagedir"
)

// Stale thresholds for the reaper.
const (
	StaleProcessingAfter = 30 * time.Minute
	StalePendingAfter    = time.Hour
)

// StaleMessage is the status message written onto reaped jobs.
const StaleMessage = "Job timed out - worker may have crashed"

// Service owns job dispatch, cancellation and deletion.
type Service struct {
	log    *zap.Logger
	db     catalog.DB
	queue  *Queue
	events *events.Service
	dir    *storagedir.Dir
}

// NewService creates the job service.
func NewService(log *zap.Logger, db catalog.DB, queue *Queue, ev *events.Service, dir *storagedir.Dir) *Service {
	return &Service{log: log, db: db, queue: queue, events: ev, dir: dir}
}

// Dispatch persists a pending job and enqueues its task. The row is
// committed before the broker push so workers always find it.
func (service *Service) Dispatch(ctx context.Context, jobType catalog.JobType, params map[string]any) (_ *catalog.Job, err error) {
	defer mon.Task()(&ctx)(&err)

	job := &catalog.Job{Type: jobType, Params: params}
	if err := service.db.Jobs().Create(ctx, job); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := service.enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Enqueue pushes a task for an already-persisted job row, such as one
// materialized by a schedule. On broker failure the row is failed.
func (service *Service) Enqueue(ctx context.Context, job *catalog.Job) (err error) {
	defer mon.Task()(&ctx)(&err)
	return service.enqueue(ctx, job)
}

func (service *Service) enqueue(ctx context.Context, job *catalog.Job) error {
	task, err := NewTask(job)
	if err != nil {
		return err
	}
	if err := service.queue.Enqueue(ctx, task); err != nil {
		finishErr := service.db.Jobs().Finish(ctx, job.ID, catalog.JobFailed,
			"Failed to enqueue job", err.Error(), time.Now().UTC())
		if finishErr != nil {
			service.log.Error("failed to fail unenqueued job", zap.Error(finishErr))
		}
		return err
	}
	return nil
}

// Cancel revokes a pending or processing job. The broker revoke is
// best-effort; the durable cancelled status is authoritative.
func (service *Service) Cancel(ctx context.Context, jobID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	job, err := service.db.Jobs().Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrInvalidTransition.New("job %s is already %s", jobID, job.Status)
	}

	if job.TaskID != "" {
		if err := service.queue.Revoke(ctx, job.TaskID); err != nil {
			service.log.Warn("task revoke failed", zap.String("task_id", job.TaskID), zap.Error(err))
		}
	}

	if err := service.db.Jobs().Finish(ctx, jobID, catalog.JobCancelled, "Cancelled by user", "", time.Now().UTC()); err != nil {
		return Error.Wrap(err)
	}
	if service.events != nil {
		_ = service.events.Progress(ctx, events.ProgressEvent{
			JobID: jobID, Status: string(catalog.JobCancelled), Progress: job.Progress,
			Message: "Cancelled by user",
		})
	}
	return nil
}

// Delete removes the job row; with deleteFiles it also removes the
// job's output directory and the frames it produced.
func (service *Service) Delete(ctx context.Context, jobID uuid.UUID, deleteFiles bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if deleteFiles {
		refs, err := service.db.Frames().DeleteBySourceJob(ctx, jobID)
		if err != nil {
			return Error.Wrap(err)
		}
		for _, ref := range refs {
			if err := service.dir.Remove(ref.FilePath); err != nil {
				service.log.Warn("frame file removal failed", zap.String("path", ref.FilePath), zap.Error(err))
			}
			if err := service.dir.Remove(ref.ThumbnailPath); err != nil {
				service.log.Warn("thumbnail removal failed", zap.Error(err))
			}
		}

		outDir, err := service.dir.Resolve("output/goes_" + jobID.String())
		if err != nil {
			return err
		}
		if err := os.RemoveAll(outDir); err != nil {
			service.log.Warn("output directory removal failed", zap.String("path", outDir), zap.Error(err))
		}
	}
	return service.db.Jobs().Delete(ctx, jobID)
}

// CleanupStale fails abandoned jobs and dead-letters tasks of lost
// workers. Runs on a beat cadence and at worker start.
func (service *Service) CleanupStale(ctx context.Context) (reaped int64, err error) {
	defer mon.Task()(&ctx)(&err)

	now := time.Now().UTC()
	reaped, err = service.db.Jobs().ReapStale(ctx,
		now.Add(-StaleProcessingAfter), now.Add(-StalePendingAfter), StaleMessage)
	if err != nil {
		return 0, err
	}

	requeued, dead, err := service.queue.RecoverLost(ctx, func(task Task) error {
		return service.db.Jobs().Finish(ctx, task.JobID, catalog.JobFailed,
			"Task exceeded retry limit", "worker lost repeatedly", now)
	})
	if err != nil {
		return reaped, err
	}
	if reaped > 0 || requeued > 0 || dead > 0 {
		service.log.Info("stale cleanup",
			zap.Int64("reaped", reaped), zap.Int("requeued", requeued), zap.Int("dead", dead))
	}
	return reaped + int64(dead), nil
}
