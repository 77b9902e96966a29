// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package jobs is the asynchronous job runtime: a redis-backed task
// queue, the worker loop and the dispatch/cancel service.
package jobs

import (
	"encoding/json"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
)

var (
	// Error is the jobs error class.
	Error = errs.Class("jobs")
	// ErrInvalidTransition rejects operations on jobs in the wrong state.
	ErrInvalidTransition = errs.Class("invalid transition")

	mon = monkit.Package()
)

// MaxAttempts before a redelivered task is dead-lettered.
const MaxAttempts = 3

// Task is the broker payload. The durable job row is the source of
// truth; the task carries only routing data.
type Task struct {
	TaskID   string          `json:"task_id"`
	JobID    uuid.UUID       `json:"job_id"`
	Type     catalog.JobType `json:"type"`
	Attempts int             `json:"attempts"`
}

// NewTask builds a task for a job, minting the broker task id.
func NewTask(job *catalog.Job) (Task, error) {
	taskID, err := uuid.New()
	if err != nil {
		return Task{}, Error.Wrap(err)
	}
	return Task{
		TaskID:   taskID.String(),
		JobID:    job.ID,
		Type:     job.Type,
		Attempts: 1,
	}, nil
}

// Encode marshals the task for the queue.
func (task Task) Encode() ([]byte, error) {
	data, err := json.Marshal(task)
	return data, Error.Wrap(err)
}

// DecodeTask unmarshals a queue payload.
func DecodeTask(data []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, Error.Wrap(err)
	}
	return task, nil
}
