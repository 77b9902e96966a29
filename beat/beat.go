// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package beat runs the periodic chores: materializing due fetch
// schedules into jobs, dispatching retention cleanups and reaping
// stale jobs.
package beat

import (
	"context"
	"fmt"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"storj.io/common/sync2"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/jobs"
)

var (
	// Error is the beat error class.
	Error = errs.Class("beat")

	mon = monkit.Package()
)

// Config tunes the chore cadences.
type Config struct {
	ScheduleInterval time.Duration `help:"how often due fetch schedules are checked" default:"1m"`
	CleanupInterval  time.Duration `help:"how often a retention cleanup job is dispatched" default:"1h"`
	StaleInterval    time.Duration `help:"how often stale jobs are reaped" default:"5m"`
}

// Chore drives the periodic loops.
//
// architecture: Chore
type Chore struct {
	log  *zap.Logger
	db   catalog.DB
	jobs *jobs.Service

	Schedules sync2.Cycle
	Cleanup   sync2.Cycle
	Stale     sync2.Cycle
}

// NewChore instantiates Chore.
func NewChore(log *zap.Logger, db catalog.DB, jobService *jobs.Service, config Config) *Chore {
	if config.ScheduleInterval <= 0 {
		config.ScheduleInterval = time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if config.StaleInterval <= 0 {
		config.StaleInterval = 5 * time.Minute
	}
	return &Chore{
		log:  log,
		db:   db,
		jobs: jobService,

		Schedules: *sync2.NewCycle(config.ScheduleInterval),
		Cleanup:   *sync2.NewCycle(config.CleanupInterval),
		Stale:     *sync2.NewCycle(config.StaleInterval),
	}
}

// Run starts all loops and blocks until the context is done.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)
	chore.Schedules.Start(ctx, group, func(ctx context.Context) error {
		if err := chore.RunSchedules(ctx, time.Now().UTC()); err != nil {
			chore.log.Error("schedule tick failed", zap.Error(err))
		}
		return nil
	})
	chore.Cleanup.Start(ctx, group, func(ctx context.Context) error {
		if err := chore.RunCleanup(ctx); err != nil {
			chore.log.Error("cleanup tick failed", zap.Error(err))
		}
		return nil
	})
	chore.Stale.Start(ctx, group, func(ctx context.Context) error {
		if _, err := chore.jobs.CleanupStale(ctx); err != nil {
			chore.log.Error("stale sweep failed", zap.Error(err))
		}
		return nil
	})
	return group.Wait()
}

// RunSchedules materializes every due schedule into a fetch job. Each
// run covers the window since the schedule's interval, so a beat outage
// at most delays frames rather than dropping them.
func (chore *Chore) RunSchedules(ctx context.Context, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	due, err := chore.db.Schedules().Due(ctx, now)
	if err != nil {
		return Error.Wrap(err)
	}

	var group errs.Group
	for _, schedule := range due {
		if err := chore.runSchedule(ctx, schedule, now); err != nil {
			chore.log.Error("schedule run failed",
				zap.Stringer("schedule_id", schedule.ID), zap.Error(err))
			group.Add(err)
		}
	}
	return group.Err()
}

func (chore *Chore) runSchedule(ctx context.Context, schedule catalog.FetchSchedule, now time.Time) error {
	preset, err := chore.db.Presets().Get(ctx, schedule.PresetID)
	if err != nil {
		return Error.Wrap(err)
	}

	interval := time.Duration(schedule.IntervalMinutes) * time.Minute
	params := make(map[string]any, len(preset.Params)+4)
	for key, value := range preset.Params {
		params[key] = value
	}
	params["start"] = now.Add(-interval).Format(time.RFC3339)
	params["end"] = now.Format(time.RFC3339)
	params["preset_id"] = preset.ID.String()
	params["schedule_id"] = schedule.ID.String()

	job := &catalog.Job{Type: catalog.JobGoesFetch, Params: params}
	nextRun := now.Add(interval)
	if err := chore.db.Schedules().MaterializeRun(ctx, schedule.ID, now, nextRun, job); err != nil {
		return Error.Wrap(err)
	}
	if err := chore.jobs.Enqueue(ctx, job); err != nil {
		return err
	}

	notifErr := chore.db.Notifications().Add(ctx, &catalog.Notification{
		Type:    catalog.NotifyScheduleRun,
		Message: fmt.Sprintf("Scheduled fetch started: %s", preset.Name),
	})
	if notifErr != nil {
		chore.log.Warn("schedule notification failed", zap.Error(notifErr))
	}

	chore.log.Info("schedule materialized",
		zap.Stringer("schedule_id", schedule.ID),
		zap.Stringer("job_id", job.ID),
		zap.Time("next_run", nextRun))
	return nil
}

// RunCleanup dispatches a retention cleanup job when active rules
// exist. Without rules the tick is a no-op.
func (chore *Chore) RunCleanup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	rules, err := chore.db.CleanupRules().Active(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	if len(rules) == 0 {
		return nil
	}

	job, err := chore.jobs.Dispatch(ctx, catalog.JobCleanup, map[string]any{"source": "beat"})
	if err != nil {
		return err
	}
	chore.log.Info("cleanup dispatched", zap.Stringer("job_id", job.ID))
	return nil
}

// Close stops all loops.
func (chore *Chore) Close() error {
	chore.Schedules.Close()
	chore.Cleanup.Close()
	chore.Stale.Close()
	return nil
}
