// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package handlers contains the worker-side job bodies: each job type
// maps to a handler that drives the ingestion, render or retention
// pipeline and reports progress through the job runtime.
package handlers

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/ingest"
	"github.com/goeswatch/goeswatch/jobs"
	"github.com/goeswatch/goeswatch/render"
	"github.com/goeswatch/goeswatch/retention"
	"github.com/goeswatch/goeswatch/storagedir"
)

var (
	// Error is the handlers error class.
	Error = errs.Class("handlers")

	mon = monkit.Package()
)

// Deps carries everything the job bodies need.
type Deps struct {
	Log       *zap.Logger
	DB        catalog.DB
	Dir       *storagedir.Dir
	Ingest    *ingest.Service
	Retention *retention.Engine
	Encoder   *render.Encoder
	Notifier  *Notifier
}

// RegisterAll binds every job type on the worker.
func RegisterAll(worker *jobs.Worker, deps Deps) {
	worker.Register(catalog.JobGoesFetch, deps.fetchHandler)
	worker.Register(catalog.JobGoesBackfill, deps.backfillHandler)
	worker.Register(catalog.JobCompositeFetch, deps.compositeFetchHandler)
	worker.Register(catalog.JobCompositeGenerate, deps.compositeGenerateHandler)
	worker.Register(catalog.JobAnimation, deps.animationHandler)
	worker.Register(catalog.JobImageProcess, deps.imageProcessHandler)
	worker.Register(catalog.JobCleanup, deps.cleanupHandler)
}
