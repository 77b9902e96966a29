// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/catalog/catalogdb"
	"github.com/goeswatch/goeswatch/jobs"
	"github.com/goeswatch/goeswatch/storagedir"
)

type fixture struct {
	ctx     context.Context
	mini    *miniredis.Miniredis
	db      *catalogdb.DB
	queue   *jobs.Queue
	service *jobs.Service
	dir     *storagedir.Dir
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	log := zaptest.NewLogger(t)

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := catalogdb.Open(ctx, log, ":memory:", catalogdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	dir, err := storagedir.New(t.TempDir())
	require.NoError(t, err)

	queue := jobs.NewQueue(log, client)
	service := jobs.NewService(log, db, queue, nil, dir)
	return &fixture{ctx: ctx, mini: mini, db: db, queue: queue, service: service, dir: dir}
}

func createJob(t *testing.T, f *fixture, jobType catalog.JobType) *catalog.Job {
	t.Helper()
	job := &catalog.Job{Type: jobType, Params: map[string]any{"satellite": "GOES-19"}}
	require.NoError(t, f.db.Jobs().Create(f.ctx, job))
	return job
}

func TestQueueFIFO(t *testing.T) {
	f := newFixture(t)

	first := createJob(t, f, catalog.JobGoesFetch)
	second := createJob(t, f, catalog.JobCleanup)

	taskA, err := jobs.NewTask(first)
	require.NoError(t, err)
	taskB, err := jobs.NewTask(second)
	require.NoError(t, err)

	require.NoError(t, f.queue.Enqueue(f.ctx, taskA))
	require.NoError(t, f.queue.Enqueue(f.ctx, taskB))

	got, raw, err := f.queue.Dequeue(f.ctx, "w1", 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, taskA.TaskID, got.TaskID)
	require.NoError(t, f.queue.Ack(f.ctx, "w1", raw))

	got, raw, err = f.queue.Dequeue(f.ctx, "w1", 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, taskB.TaskID, got.TaskID)
	require.NoError(t, f.queue.Ack(f.ctx, "w1", raw))

	_, raw, err = f.queue.Dequeue(f.ctx, "w1", 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, raw)
}

func TestDequeueDropsRevokedTask(t *testing.T) {
	f := newFixture(t)

	job := createJob(t, f, catalog.JobGoesFetch)
	task, err := jobs.NewTask(job)
	require.NoError(t, err)

	require.NoError(t, f.queue.Enqueue(f.ctx, task))
	require.NoError(t, f.queue.Revoke(f.ctx, task.TaskID))

	_, raw, err := f.queue.Dequeue(f.ctx, "w1", 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, raw, "revoked task must not be delivered")

	// The drop consumed the revocation marker.
	require.False(t, f.mini.Exists("goeswatch:revoked"))
}

func TestRecoverLostRequeuesThenDeadLetters(t *testing.T) {
	f := newFixture(t)

	job := createJob(t, f, catalog.JobGoesFetch)
	task, err := jobs.NewTask(job)
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(f.ctx, task))

	var dead []jobs.Task
	deadLetter := func(task jobs.Task) error {
		dead = append(dead, task)
		return nil
	}

	// Lose the worker three times; attempts 2 and 3 requeue, the
	// fourth delivery is past MaxAttempts.
	for loss := 0; loss < 3; loss++ {
		require.NoError(t, f.queue.Register(f.ctx, "w1"))
		got, raw, err := f.queue.Dequeue(f.ctx, "w1", 100*time.Millisecond)
		require.NoError(t, err)
		require.NotEmpty(t, raw)
		require.Equal(t, loss+1, got.Attempts)

		f.mini.FastForward(jobs.HeartbeatTTL + time.Second)

		requeued, deadCount, err := f.queue.RecoverLost(f.ctx, deadLetter)
		require.NoError(t, err)
		if loss < 2 {
			require.Equal(t, 1, requeued)
			require.Equal(t, 0, deadCount)
		} else {
			require.Equal(t, 0, requeued)
			require.Equal(t, 1, deadCount)
		}
	}

	require.Len(t, dead, 1)
	require.Equal(t, task.TaskID, dead[0].TaskID)
	require.Equal(t, jobs.MaxAttempts+1, dead[0].Attempts)
}

func TestDeregisterRequeuesInFlight(t *testing.T) {
	f := newFixture(t)

	job := createJob(t, f, catalog.JobGoesFetch)
	task, err := jobs.NewTask(job)
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(f.ctx, task))

	require.NoError(t, f.queue.Register(f.ctx, "w1"))
	_, raw, err := f.queue.Dequeue(f.ctx, "w1", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	require.NoError(t, f.queue.Deregister(f.ctx, "w1"))

	got, raw, err := f.queue.Dequeue(f.ctx, "w2", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Equal(t, task.TaskID, got.TaskID)
	require.Equal(t, 2, got.Attempts)
}

func TestReporterThrottlesDurableWrites(t *testing.T) {
	f := newFixture(t)

	job := createJob(t, f, catalog.JobAnimation)
	require.NoError(t, f.db.Jobs().Start(f.ctx, job.ID, "task-1", time.Now().UTC()))

	rep := jobs.NewReporter(zaptest.NewLogger(t), f.db, nil, job.ID)

	rep.Progress(f.ctx, 10, "rendering")
	loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 10, loaded.Progress)

	// Small delta, same message: the row must not move.
	rep.Progress(f.ctx, 13, "rendering")
	loaded, err = f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 10, loaded.Progress)

	// A message change forces the write regardless of delta.
	rep.Progress(f.ctx, 14, "encoding")
	loaded, err = f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 14, loaded.Progress)
	require.Equal(t, "encoding", loaded.StatusMessage)

	// 100 is never throttled.
	rep.Progress(f.ctx, 100, "encoding")
	loaded, err = f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 100, loaded.Progress)
}

func TestReporterFinishKeepsFailureProgress(t *testing.T) {
	f := newFixture(t)

	job := createJob(t, f, catalog.JobAnimation)
	require.NoError(t, f.db.Jobs().Start(f.ctx, job.ID, "task-1", time.Now().UTC()))

	rep := jobs.NewReporter(zaptest.NewLogger(t), f.db, nil, job.ID)
	rep.Progress(f.ctx, 40, "rendering")
	require.NoError(t, rep.Finish(f.ctx, catalog.JobFailed, "Job failed", "ffmpeg exited 1"))

	loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, loaded.Status)
	require.Equal(t, 40, loaded.Progress, "failed jobs keep their last progress")
	require.Equal(t, "ffmpeg exited 1", loaded.Error)
}

func TestDispatchEnqueuesPendingJob(t *testing.T) {
	f := newFixture(t)

	job, err := f.service.Dispatch(f.ctx, catalog.JobGoesFetch, map[string]any{"band": "C13"})
	require.NoError(t, err)
	require.Equal(t, catalog.JobPending, job.Status)

	got, raw, err := f.queue.Dequeue(f.ctx, "w1", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Equal(t, job.ID, got.JobID)
	require.Equal(t, catalog.JobGoesFetch, got.Type)
}

func TestCancelPendingAndTerminal(t *testing.T) {
	f := newFixture(t)

	job, err := f.service.Dispatch(f.ctx, catalog.JobGoesFetch, nil)
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(f.ctx, job.ID))

	loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCancelled, loaded.Status)
	require.Equal(t, "Cancelled by user", loaded.StatusMessage)

	err = f.service.Cancel(f.ctx, job.ID)
	require.True(t, jobs.ErrInvalidTransition.Has(err))
}

func TestCleanupStaleReapsAbandonedJobs(t *testing.T) {
	f := newFixture(t)

	stale := createJob(t, f, catalog.JobGoesFetch)
	require.NoError(t, f.db.Jobs().Start(f.ctx, stale.ID, "task-stale",
		time.Now().UTC().Add(-jobs.StaleProcessingAfter-time.Minute)))

	fresh := createJob(t, f, catalog.JobGoesFetch)
	require.NoError(t, f.db.Jobs().Start(f.ctx, fresh.ID, "task-fresh", time.Now().UTC()))

	reaped, err := f.service.CleanupStale(f.ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), reaped)

	loaded, err := f.db.Jobs().Get(f.ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobFailed, loaded.Status)
	require.Equal(t, jobs.StaleMessage, loaded.StatusMessage)

	loaded, err = f.db.Jobs().Get(f.ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobProcessing, loaded.Status)
}

func runWorker(t *testing.T, f *fixture, worker *jobs.Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestWorkerRunsHandlerToCompletion(t *testing.T) {
	f := newFixture(t)

	worker := jobs.NewWorker(zaptest.NewLogger(t), f.db, f.queue, nil, jobs.WorkerConfig{
		ID:          "w1",
		PollTimeout: 50 * time.Millisecond,
	})
	handled := make(chan struct{})
	worker.Register(catalog.JobGoesFetch, func(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (jobs.Result, error) {
		rep.Progress(ctx, 50, "halfway")
		defer close(handled)
		return jobs.Result{Message: "Fetched 3 frames"}, nil
	})

	stop := runWorker(t, f, worker)
	defer stop()

	job, err := f.service.Dispatch(f.ctx, catalog.JobGoesFetch, nil)
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(10 * time.Second):
		t.Fatal("handler never ran")
	}

	require.Eventually(t, func() bool {
		loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
		return err == nil && loaded.Status == catalog.JobCompleted
	}, 10*time.Second, 20*time.Millisecond)

	loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "Fetched 3 frames", loaded.StatusMessage)
	require.Equal(t, 100, loaded.Progress)

	// The processing list must drain once the job is terminal.
	require.Eventually(t, func() bool {
		return !f.mini.Exists("goeswatch:processing:w1")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorkerFailsHandlerError(t *testing.T) {
	f := newFixture(t)

	worker := jobs.NewWorker(zaptest.NewLogger(t), f.db, f.queue, nil, jobs.WorkerConfig{
		ID:          "w1",
		PollTimeout: 50 * time.Millisecond,
	})
	worker.Register(catalog.JobCleanup, func(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (jobs.Result, error) {
		return jobs.Result{}, jobs.Error.New("disk exploded")
	})

	stop := runWorker(t, f, worker)
	defer stop()

	job, err := f.service.Dispatch(f.ctx, catalog.JobCleanup, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
		return err == nil && loaded.Status == catalog.JobFailed
	}, 10*time.Second, 20*time.Millisecond)

	loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Contains(t, loaded.Error, "disk exploded")
}

func TestWorkerDropsJobCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)

	job, err := f.service.Dispatch(f.ctx, catalog.JobGoesFetch, nil)
	require.NoError(t, err)
	require.NoError(t, f.service.Cancel(f.ctx, job.ID))

	worker := jobs.NewWorker(zaptest.NewLogger(t), f.db, f.queue, nil, jobs.WorkerConfig{
		ID:          "w1",
		PollTimeout: 50 * time.Millisecond,
	})
	worker.Register(catalog.JobGoesFetch, func(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (jobs.Result, error) {
		t.Error("handler must not run for a cancelled job")
		return jobs.Result{}, nil
	})

	stop := runWorker(t, f, worker)
	defer stop()

	require.Eventually(t, func() bool {
		return !f.mini.Exists("goeswatch:queue") && !f.mini.Exists("goeswatch:processing:w1")
	}, 10*time.Second, 20*time.Millisecond)

	loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobCancelled, loaded.Status)
}

func TestWorkerRevokeCancelsRunningJob(t *testing.T) {
	f := newFixture(t)

	worker := jobs.NewWorker(zaptest.NewLogger(t), f.db, f.queue, nil, jobs.WorkerConfig{
		ID:          "w1",
		PollTimeout: 50 * time.Millisecond,
	})
	started := make(chan struct{})
	worker.Register(catalog.JobAnimation, func(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (jobs.Result, error) {
		close(started)
		<-ctx.Done()
		return jobs.Result{}, ctx.Err()
	})

	stop := runWorker(t, f, worker)
	defer stop()

	job, err := f.service.Dispatch(f.ctx, catalog.JobAnimation, nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, f.service.Cancel(f.ctx, job.ID))

	require.Eventually(t, func() bool {
		loaded, err := f.db.Jobs().Get(f.ctx, job.ID)
		return err == nil && loaded.Status == catalog.JobCancelled
	}, 10*time.Second, 20*time.Millisecond)
}
