// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"context"
	"fmt"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/ingest"
	"github.com/goeswatch/goeswatch/jobs"
)

func (deps Deps) fetchHandler(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (_ jobs.Result, err error) {
	defer mon.Task()(&ctx)(&err)

	req, err := fetchRequest(job)
	if err != nil {
		return jobs.Result{}, err
	}

	outcome, err := deps.Ingest.Fetch(ctx, req, func(progress int, message string) {
		rep.Progress(ctx, progress, message)
	})
	if err != nil {
		deps.Notifier.Notify(ctx, catalog.NotifyFetchFailed,
			fmt.Sprintf("Fetch %s %s %s failed", req.Satellite, req.Band, req.Sector))
		return jobs.Result{}, err
	}

	notifyType := catalog.NotifyFetchComplete
	if outcome.Status == catalog.JobFailed {
		notifyType = catalog.NotifyFetchFailed
	}
	deps.Notifier.Notify(ctx, notifyType,
		fmt.Sprintf("Fetch %s %s %s: %s", req.Satellite, req.Band, req.Sector, outcome.Message))
	deps.Notifier.Webhook(ctx, WebhookPayload{
		JobID:   job.ID.String(),
		Type:    string(job.Type),
		Status:  string(outcome.Status),
		Message: outcome.Message,
	})

	rep.Log(ctx, "info", fmt.Sprintf("fetched=%d failed=%d total_available=%d capped=%v",
		outcome.Tally.Fetched, outcome.Tally.Failed, outcome.Tally.TotalAvailable, outcome.Tally.Capped))

	return jobs.Result{Status: outcome.Status, Message: outcome.Message}, nil
}

func fetchRequest(job *catalog.Job) (ingest.Request, error) {
	satellite, err := goes.ParseSatellite(stringParam(job.Params, "satellite"))
	if err != nil {
		return ingest.Request{}, err
	}
	sector, err := goes.ParseSector(stringParam(job.Params, "sector"))
	if err != nil {
		return ingest.Request{}, err
	}
	band, err := goes.ParseBand(stringParam(job.Params, "band"))
	if err != nil {
		return ingest.Request{}, err
	}
	start, err := timeParam(job.Params, "start")
	if err != nil {
		return ingest.Request{}, err
	}
	end, err := timeParam(job.Params, "end")
	if err != nil {
		return ingest.Request{}, err
	}
	return ingest.Request{
		Satellite: satellite,
		Sector:    sector,
		Band:      band,
		Start:     start,
		End:       end,
		JobID:     job.ID,
	}, nil
}

func (deps Deps) backfillHandler(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (_ jobs.Result, err error) {
	defer mon.Task()(&ctx)(&err)

	satellite, err := goes.ParseSatellite(stringParam(job.Params, "satellite"))
	if err != nil {
		return jobs.Result{}, err
	}
	sector, err := goes.ParseSector(stringParam(job.Params, "sector"))
	if err != nil {
		return jobs.Result{}, err
	}
	band, err := goes.ParseBand(stringParam(job.Params, "band"))
	if err != nil {
		return jobs.Result{}, err
	}

	outcome, err := deps.Ingest.Backfill(ctx, ingest.BackfillRequest{
		Satellite:       satellite,
		Sector:          sector,
		Band:            band,
		IntervalMinutes: intParam(job.Params, "interval_minutes", 0),
		JobID:           job.ID,
	}, func(progress int, message string) {
		rep.Progress(ctx, progress, message)
	})
	if err != nil {
		return jobs.Result{}, err
	}
	return jobs.Result{Status: outcome.Status, Message: outcome.Message}, nil
}
