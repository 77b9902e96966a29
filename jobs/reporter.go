// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/events"
)

// ProgressThreshold is the minimum durable progress delta; smaller
// progress-only updates skip the database write.
const ProgressThreshold = 5

// Reporter publishes one job's progress on both channels: durable
// (throttled catalog updates) and ephemeral (redis pub/sub, always).
type Reporter struct {
	log    *zap.Logger
	db     catalog.DB
	events *events.Service
	jobID  uuid.UUID

	lastSaved   int
	lastMessage string
}

// NewReporter creates a reporter for one job.
func NewReporter(log *zap.Logger, db catalog.DB, ev *events.Service, jobID uuid.UUID) *Reporter {
	return &Reporter{log: log, db: db, events: ev, jobID: jobID, lastSaved: -1}
}

// Progress reports a non-terminal update. The durable write is skipped
// when the message is unchanged and the delta since the last saved
// progress is under the threshold (and progress is not 100); the
// ephemeral publish always happens. Publish failures never abort a job.
func (r *Reporter) Progress(ctx context.Context, progress int, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	messageChanged := message != "" && message != r.lastMessage
	delta := progress - r.lastSaved
	if delta < 0 {
		delta = -delta
	}
	if messageChanged || delta >= ProgressThreshold || progress == 100 {
		if err := r.db.Jobs().UpdateProgress(ctx, r.jobID, progress, message); err != nil {
			r.log.Warn("durable progress update failed", zap.Error(err))
		} else {
			r.lastSaved = progress
			if message != "" {
				r.lastMessage = message
			}
		}
	}

	r.publish(ctx, events.ProgressEvent{
		JobID:    r.jobID,
		Status:   string(catalog.JobProcessing),
		Progress: progress,
		Message:  message,
	})
}

// Log appends a durable job log line and mirrors it ephemerally.
func (r *Reporter) Log(ctx context.Context, level, message string) {
	err := r.db.JobLogs().Append(ctx, catalog.JobLog{
		JobID:     r.jobID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.log.Warn("job log append failed", zap.Error(err))
	}
}

// Finish applies a terminal transition. Never throttled; resets the
// throttle state so a requeued attempt starts fresh.
func (r *Reporter) Finish(ctx context.Context, status catalog.JobStatus, message, errText string) error {
	if err := r.db.Jobs().Finish(ctx, r.jobID, status, message, errText, time.Now().UTC()); err != nil {
		return Error.Wrap(err)
	}
	r.lastSaved = -1
	r.lastMessage = ""

	progress := 100
	if status == catalog.JobFailed || status == catalog.JobCancelled {
		job, err := r.db.Jobs().Get(ctx, r.jobID)
		if err == nil {
			progress = job.Progress
		}
	}
	r.publish(ctx, events.ProgressEvent{
		JobID:    r.jobID,
		Status:   string(status),
		Progress: progress,
		Message:  message,
		Error:    errText,
	})
	return nil
}

func (r *Reporter) publish(ctx context.Context, event events.ProgressEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.Progress(ctx, event); err != nil {
		r.log.Debug("progress publish failed", zap.Error(err))
	}
}
