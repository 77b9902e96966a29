// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/jobs"
)

func (deps Deps) cleanupHandler(ctx context.Context, job *catalog.Job, rep *jobs.Reporter) (_ jobs.Result, err error) {
	defer mon.Task()(&ctx)(&err)

	rep.Progress(ctx, 10, "Collecting retention candidates")
	result, err := deps.Retention.Run(ctx, time.Now().UTC())
	if err != nil {
		return jobs.Result{}, err
	}
	return jobs.Result{
		Message: fmt.Sprintf("Deleted %d frames (%.2f MB freed)",
			result.DeletedFrames, float64(result.FreedBytes)/(1<<20)),
	}, nil
}
