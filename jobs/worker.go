// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/events"
)

// ErrMemoryLimit is returned by Run when the worker exceeds its memory
// budget; the supervisor restarts the process to reclaim leaks.
var ErrMemoryLimit = errors.New("worker memory limit exceeded")

// Result is a handler's terminal outcome. An empty status means
// completed.
type Result struct {
	Status  catalog.JobStatus
	Message string
	ErrText string
}

// Handler executes one job type. The context is cancelled on revoke and
// on the soft time limit; handlers should observe it between frames.
type Handler func(ctx context.Context, job *catalog.Job, rep *Reporter) (Result, error)

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	ID          string        `help:"worker identity; defaults to hostname+pid" default:""`
	PollTimeout time.Duration `help:"queue poll timeout" default:"5s"`
	SoftTimeout time.Duration `help:"cooperative per-task time limit" default:"30m"`
	HardTimeout time.Duration `help:"absolute per-task time limit" default:"60m"`
	MaxRSSBytes uint64        `help:"restart the worker above this resident set" default:"536870912"`
}

// Worker pulls tasks and drives handlers. One worker executes one task
// at a time; parallelism comes from running several workers.
type Worker struct {
	log      *zap.Logger
	db       catalog.DB
	queue    *Queue
	events   *events.Service
	config   WorkerConfig
	handlers map[catalog.JobType]Handler

	mu          chan struct{} // buffered(1); guards current
	currentTask string
	currentStop context.CancelFunc
}

// NewWorker creates a worker.
func NewWorker(log *zap.Logger, db catalog.DB, queue *Queue, ev *events.Service, config WorkerConfig) *Worker {
	if config.ID == "" {
		host, _ := os.Hostname()
		config.ID = host + "-" + strconv.Itoa(os.Getpid())
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 5 * time.Second
	}
	if config.SoftTimeout <= 0 {
		config.SoftTimeout = 30 * time.Minute
	}
	if config.HardTimeout <= 0 {
		config.HardTimeout = 60 * time.Minute
	}
	if config.MaxRSSBytes == 0 {
		config.MaxRSSBytes = 512 << 20
	}
	return &Worker{
		log:      log.With(zap.String("worker", config.ID)),
		db:       db,
		queue:    queue,
		events:   ev,
		config:   config,
		handlers: make(map[catalog.JobType]Handler),
		mu:       make(chan struct{}, 1),
	}
}

// Register binds a handler to a job type.
func (w *Worker) Register(jobType catalog.JobType, handler Handler) {
	w.handlers[jobType] = handler
}

// ID returns the worker identity.
func (w *Worker) ID() string { return w.config.ID }

// Run is the worker loop. It returns ErrMemoryLimit when the process
// should restart, or the context error on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.Register(ctx, w.config.ID); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.queue.Deregister(shutdownCtx, w.config.ID); err != nil {
			w.log.Warn("deregister failed", zap.Error(err))
		}
	}()

	go w.watchRevokes(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.queue.Heartbeat(ctx, w.config.ID); err != nil {
			w.log.Warn("heartbeat failed", zap.Error(err))
		}

		task, raw, err := w.queue.Dequeue(ctx, w.config.ID, w.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("dequeue failed", zap.Error(err))
			continue
		}
		if raw == "" {
			continue
		}

		w.process(ctx, task)

		if err := w.queue.Ack(ctx, w.config.ID, raw); err != nil {
			w.log.Warn("ack failed", zap.String("task_id", task.TaskID), zap.Error(err))
		}

		if over, rss := w.overMemoryLimit(); over {
			w.log.Warn("restarting over memory limit", zap.Uint64("rss", rss))
			return ErrMemoryLimit
		}
	}
}

// watchRevokes cancels the running task when its id is broadcast.
func (w *Worker) watchRevokes(ctx context.Context) {
	sub := w.queue.SubscribeControl(ctx)
	defer func() { _ = sub.Close() }()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		w.mu <- struct{}{}
		if w.currentTask == msg.Payload && w.currentStop != nil {
			w.log.Info("revoking running task", zap.String("task_id", msg.Payload))
			w.currentStop()
		}
		<-w.mu
	}
}

func (w *Worker) setCurrent(taskID string, stop context.CancelFunc) {
	w.mu <- struct{}{}
	w.currentTask, w.currentStop = taskID, stop
	<-w.mu
}

// process drives one task to a terminal status. The processing-list
// entry is acked by the caller only after this returns, so a crash here
// leaves the task recoverable.
func (w *Worker) process(ctx context.Context, task Task) {
	log := w.log.With(zap.Stringer("job_id", task.JobID), zap.String("task_id", task.TaskID))

	now := time.Now().UTC()
	err := w.db.Jobs().Start(ctx, task.JobID, task.TaskID, now)
	if err != nil {
		if catalog.ErrNotFound.Has(err) {
			log.Warn("task for missing job, dropping")
			return
		}
		if catalog.ErrConflict.Has(err) {
			job, getErr := w.db.Jobs().Get(ctx, task.JobID)
			if getErr != nil || job.Status.Terminal() {
				log.Info("task for finished job, dropping")
				return
			}
			// Redelivery of a task whose first attempt died mid-flight;
			// the row is already processing and belongs to this task now.
			log.Info("resuming redelivered task", zap.Int("attempts", task.Attempts))
		} else {
			log.Error("start transition failed", zap.Error(err))
			return
		}
	}

	handler, ok := w.handlers[task.Type]
	rep := NewReporter(w.log, w.db, w.events, task.JobID)
	if !ok {
		_ = rep.Finish(ctx, catalog.JobFailed, "No handler for job type", string(task.Type))
		return
	}

	job, err := w.db.Jobs().Get(ctx, task.JobID)
	if err != nil {
		log.Error("job load failed", zap.Error(err))
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.config.SoftTimeout)
	defer cancel()
	w.setCurrent(task.TaskID, cancel)
	defer w.setCurrent("", nil)

	type handlerResult struct {
		result Result
		err    error
	}
	done := make(chan handlerResult, 1)
	go func() {
		result, err := handler(taskCtx, job, rep)
		done <- handlerResult{result, err}
	}()

	hard := time.NewTimer(w.config.HardTimeout)
	defer hard.Stop()

	select {
	case hr := <-done:
		w.finish(ctx, taskCtx, rep, task, hr.result, hr.err)
	case <-hard.C:
		cancel()
		log.Error("hard time limit exceeded, abandoning task")
		_ = rep.Finish(ctx, catalog.JobFailed, "Job exceeded hard time limit", "")
	}
}

func (w *Worker) finish(ctx, taskCtx context.Context, rep *Reporter, task Task, result Result, handlerErr error) {
	log := w.log.With(zap.Stringer("job_id", task.JobID))

	if handlerErr != nil {
		if errors.Is(handlerErr, context.Canceled) || errors.Is(handlerErr, context.DeadlineExceeded) || taskCtx.Err() != nil {
			job, err := w.db.Jobs().Get(ctx, task.JobID)
			if err == nil && job.Status == catalog.JobCancelled {
				// Cancel already wrote the terminal row.
				return
			}
			message := "Job cancelled"
			if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
				message = "Job exceeded soft time limit"
			}
			_ = rep.Finish(ctx, catalog.JobCancelled, message, "")
			return
		}
		log.Warn("job failed", zap.Error(handlerErr))
		_ = rep.Finish(ctx, catalog.JobFailed, "Job failed", handlerErr.Error())
		return
	}

	if result.Status == "" {
		result.Status = catalog.JobCompleted
	}
	if err := rep.Finish(ctx, result.Status, result.Message, result.ErrText); err != nil {
		log.Error("terminal transition failed", zap.Error(err))
	}
}

func (w *Worker) overMemoryLimit() (bool, uint64) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return false, 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return false, 0
	}
	return info.RSS > w.config.MaxRSSBytes, info.RSS
}
