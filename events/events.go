// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package events publishes job lifecycle events over redis pub/sub so API
// processes can fan them out to websocket clients regardless of which
// worker runs the job.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"storj.io/common/uuid"
)

var (
	// Error is the events error class.
	Error = errs.Class("events")

	mon = monkit.Package()
)

// GlobalTopic carries coarse catalog-changed events for dashboard clients.
const GlobalTopic = "events"

// JobTopic returns the per-job progress channel.
func JobTopic(jobID uuid.UUID) string {
	return "job:" + jobID.String()
}

// ProgressEvent is the per-job payload. Progress events are ephemeral;
// the durable row in the catalog is the source of truth.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GlobalEvent is the payload on GlobalTopic, e.g. job_completed,
// job_failed, frames_added.
type GlobalEvent struct {
	Type      string    `json:"type"`
	JobID     uuid.UUID `json:"job_id,omitempty"`
	JobType   string    `json:"job_type,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Service publishes and subscribes over a shared redis client.
type Service struct {
	log    *zap.Logger
	client redis.UniversalClient
}

// NewService creates an events service.
func NewService(log *zap.Logger, client redis.UniversalClient) *Service {
	return &Service{log: log, client: client}
}

// Publish marshals the payload as JSON onto the topic. Publish failures
// are logged but returned too; callers decide whether they are fatal.
func (service *Service) Publish(ctx context.Context, topic string, payload any) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := json.Marshal(payload)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := service.client.Publish(ctx, topic, data).Err(); err != nil {
		service.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		return Error.Wrap(err)
	}
	return nil
}

// Progress publishes a per-job progress event and mirrors terminal
// transitions onto the global topic.
func (service *Service) Progress(ctx context.Context, event ProgressEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := service.Publish(ctx, JobTopic(event.JobID), event); err != nil {
		return err
	}
	switch event.Status {
	case "completed", "completed_partial", "failed", "cancelled":
		return service.Publish(ctx, GlobalTopic, GlobalEvent{
			Type:      "job_" + event.Status,
			JobID:     event.JobID,
			Message:   event.Message,
			Timestamp: event.Timestamp,
		})
	}
	return nil
}

// Subscription is a consumed pub/sub stream.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe opens a subscription on the given topics.
func (service *Service) Subscribe(ctx context.Context, topics ...string) *Subscription {
	return &Subscription{pubsub: service.client.Subscribe(ctx, topics...)}
}

// Next blocks until a message arrives or the context ends, returning the
// raw JSON payload.
func (sub *Subscription) Next(ctx context.Context) ([]byte, error) {
	msg, err := sub.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return []byte(msg.Payload), nil
}

// Channel exposes the underlying message channel for select loops.
func (sub *Subscription) Channel() <-chan *redis.Message {
	return sub.pubsub.Channel()
}

// Close terminates the subscription.
func (sub *Subscription) Close() error {
	return Error.Wrap(sub.pubsub.Close())
}
