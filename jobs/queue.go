// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Queue key layout.
const (
	queueKey       = "goeswatch:queue"
	processingKey  = "goeswatch:processing:" // + worker id
	heartbeatKey   = "goeswatch:heartbeat:"  // + worker id
	workersKey     = "goeswatch:workers"
	revokedKey     = "goeswatch:revoked"
	ControlChannel = "goeswatch:control"
)

// HeartbeatTTL is how long a worker's heartbeat key lives; a missing key
// marks the worker lost.
const HeartbeatTTL = 60 * time.Second

// Queue is the redis task queue. Delivery is acknowledge-late: a
// dequeued task sits on the worker's processing list until Ack, so a
// crashed worker's task can be recovered.
type Queue struct {
	log    *zap.Logger
	client redis.UniversalClient
}

// NewQueue creates the queue.
func NewQueue(log *zap.Logger, client redis.UniversalClient) *Queue {
	return &Queue{log: log, client: client}
}

// Enqueue pushes a task.
func (q *Queue) Enqueue(ctx context.Context, task Task) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := task.Encode()
	if err != nil {
		return err
	}
	return Error.Wrap(q.client.LPush(ctx, queueKey, data).Err())
}

// Dequeue blocks up to timeout for a task, moving it onto the worker's
// processing list. Revoked tasks are dropped and acknowledged
// immediately; callers get (Task{}, "", nil) on timeout.
func (q *Queue) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (_ Task, raw string, err error) {
	defer mon.Task()(&ctx)(&err)

	for {
		payload, err := q.client.BLMove(ctx, queueKey, processingKey+workerID, "RIGHT", "LEFT", timeout).Result()
		if errors.Is(err, redis.Nil) {
			return Task{}, "", nil
		}
		if err != nil {
			return Task{}, "", Error.Wrap(err)
		}

		task, err := DecodeTask([]byte(payload))
		if err != nil {
			q.log.Error("dropping undecodable task", zap.Error(err))
			_ = q.Ack(ctx, workerID, payload)
			continue
		}

		revoked, err := q.client.SRem(ctx, revokedKey, task.TaskID).Result()
		if err != nil {
			return Task{}, "", Error.Wrap(err)
		}
		if revoked > 0 {
			q.log.Info("dropping revoked task", zap.String("task_id", task.TaskID))
			_ = q.Ack(ctx, workerID, payload)
			continue
		}
		return task, payload, nil
	}
}

// Ack removes a finished task from the worker's processing list.
func (q *Queue) Ack(ctx context.Context, workerID, raw string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(q.client.LRem(ctx, processingKey+workerID, 1, raw).Err())
}

// Register announces a worker and stamps its first heartbeat.
func (q *Queue) Register(ctx context.Context, workerID string) error {
	if err := q.client.SAdd(ctx, workersKey, workerID).Err(); err != nil {
		return Error.Wrap(err)
	}
	return q.Heartbeat(ctx, workerID)
}

// Heartbeat refreshes the worker's liveness key.
func (q *Queue) Heartbeat(ctx context.Context, workerID string) error {
	return Error.Wrap(q.client.Set(ctx, heartbeatKey+workerID, time.Now().UTC().Format(time.RFC3339), HeartbeatTTL).Err())
}

// Deregister removes a cleanly-stopping worker, requeueing anything
// still on its processing list.
func (q *Queue) Deregister(ctx context.Context, workerID string) error {
	if _, _, err := q.recoverWorker(ctx, workerID); err != nil {
		return err
	}
	return Error.Wrap(q.client.SRem(ctx, workersKey, workerID).Err())
}

// Revoke marks a task id revoked and broadcasts it so the executing
// worker can cancel cooperatively.
func (q *Queue) Revoke(ctx context.Context, taskID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := q.client.SAdd(ctx, revokedKey, taskID).Err(); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(q.client.Publish(ctx, ControlChannel, taskID).Err())
}

// SubscribeControl opens the revoke broadcast channel.
func (q *Queue) SubscribeControl(ctx context.Context) *redis.PubSub {
	return q.client.Subscribe(ctx, ControlChannel)
}

// WorkerStatus reports one registered worker's liveness.
type WorkerStatus struct {
	ID    string `json:"id"`
	Alive bool   `json:"alive"`
}

// Workers lists registered workers and whether their heartbeat is
// current.
func (q *Queue) Workers(ctx context.Context) (_ []WorkerStatus, err error) {
	defer mon.Task()(&ctx)(&err)

	ids, err := q.client.SMembers(ctx, workersKey).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	statuses := make([]WorkerStatus, 0, len(ids))
	for _, id := range ids {
		alive, err := q.client.Exists(ctx, heartbeatKey+id).Result()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		statuses = append(statuses, WorkerStatus{ID: id, Alive: alive > 0})
	}
	return statuses, nil
}

// RecoverLost requeues tasks held by workers whose heartbeat expired.
// Tasks past MaxAttempts are dead-lettered via the callback instead of
// requeued.
func (q *Queue) RecoverLost(ctx context.Context, deadLetter func(Task) error) (requeued, dead int, err error) {
	defer mon.Task()(&ctx)(&err)

	workers, err := q.client.SMembers(ctx, workersKey).Result()
	if err != nil {
		return 0, 0, Error.Wrap(err)
	}
	for _, workerID := range workers {
		alive, err := q.client.Exists(ctx, heartbeatKey+workerID).Result()
		if err != nil {
			return requeued, dead, Error.Wrap(err)
		}
		if alive > 0 {
			continue
		}
		r, d, err := q.recoverWorkerWith(ctx, workerID, deadLetter)
		if err != nil {
			return requeued, dead, err
		}
		requeued += r
		dead += d
		if err := q.client.SRem(ctx, workersKey, workerID).Err(); err != nil {
			return requeued, dead, Error.Wrap(err)
		}
	}
	return requeued, dead, nil
}

func (q *Queue) recoverWorker(ctx context.Context, workerID string) (int, int, error) {
	return q.recoverWorkerWith(ctx, workerID, nil)
}

func (q *Queue) recoverWorkerWith(ctx context.Context, workerID string, deadLetter func(Task) error) (requeued, dead int, err error) {
	key := processingKey + workerID
	for {
		payload, err := q.client.RPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return requeued, dead, nil
		}
		if err != nil {
			return requeued, dead, Error.Wrap(err)
		}

		task, err := DecodeTask([]byte(payload))
		if err != nil {
			q.log.Error("dropping undecodable processing entry", zap.Error(err))
			continue
		}
		task.Attempts++
		if task.Attempts > MaxAttempts {
			dead++
			q.log.Warn("dead-lettering task",
				zap.String("task_id", task.TaskID), zap.Int("attempts", task.Attempts))
			if deadLetter != nil {
				if err := deadLetter(task); err != nil {
					q.log.Error("dead-letter callback failed", zap.Error(err))
				}
			}
			continue
		}
		if err := q.Enqueue(ctx, task); err != nil {
			return requeued, dead, err
		}
		requeued++
	}
}
