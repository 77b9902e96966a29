// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package goeswatch assembles the three process peers: the API server,
// the job worker and the beat scheduler. Each peer owns its own
// database and broker connections so processes scale independently.
package goeswatch

import (
	"context"
	"errors"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/goeswatch/goeswatch/beat"
	"github.com/goeswatch/goeswatch/catalog/catalogdb"
	"github.com/goeswatch/goeswatch/events"
	"github.com/goeswatch/goeswatch/handlers"
	"github.com/goeswatch/goeswatch/ingest"
	"github.com/goeswatch/goeswatch/jobs"
	"github.com/goeswatch/goeswatch/objectstore"
	"github.com/goeswatch/goeswatch/render"
	"github.com/goeswatch/goeswatch/retention"
	"github.com/goeswatch/goeswatch/storagedir"
	"github.com/goeswatch/goeswatch/web"
)

// Error is the peer assembly error class.
var Error = errs.Class("goeswatch")

// Config aggregates every peer's configuration.
type Config struct {
	Database string `help:"catalog database URL (postgres:// or sqlite3://)" default:"sqlite3://goeswatch.db"`
	Redis    string `help:"redis broker URL" default:"redis://localhost:6379/0"`
	Storage  string `help:"storage root directory" default:"./storage"`
	Encoder  string `help:"path to the ffmpeg binary" default:"ffmpeg"`

	Bucket     objectstore.Config
	Resilience objectstore.ResilienceConfig
	Ingest     ingest.Config
	Worker     jobs.WorkerConfig
	Beat       beat.Config
	API        web.Config
}

// core is the shared substrate under every peer.
type core struct {
	log   *zap.Logger
	db    *catalogdb.DB
	redis redis.UniversalClient
	dir   *storagedir.Dir
}

func newCore(ctx context.Context, log *zap.Logger, config Config) (*core, error) {
	db, err := catalogdb.Open(ctx, log.Named("catalogdb"), config.Database, catalogdb.Options{})
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		// Migrations run out-of-band; this fallback only matters on a
		// fresh database.
		log.Warn("schema check failed", zap.Error(err))
	}

	opts, err := redis.ParseURL(config.Redis)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable at startup", zap.Error(err))
	}

	dir, err := storagedir.New(config.Storage)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, client.Close(), db.Close()))
	}

	return &core{log: log, db: db, redis: client, dir: dir}, nil
}

func (c *core) close() error {
	return errs.Combine(c.redis.Close(), c.db.Close())
}

// API is the HTTP server peer.
type API struct {
	*core

	Listener net.Listener
	Server   *web.Server
}

// NewAPI assembles the API peer and binds its listener.
func NewAPI(ctx context.Context, log *zap.Logger, config Config) (*API, error) {
	c, err := newCore(ctx, log, config)
	if err != nil {
		return nil, err
	}

	if config.API.APIKey == "" {
		log.Warn("API_KEY is not set; the API accepts unauthenticated requests")
	}

	listener, err := net.Listen("tcp", config.API.Address)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, c.close()))
	}

	queue := jobs.NewQueue(log.Named("queue"), c.redis)
	eventService := events.NewService(log.Named("events"), c.redis)
	jobService := jobs.NewService(log.Named("jobs"), c.db, queue, eventService, c.dir)
	engine := retention.NewEngine(log.Named("retention"), c.db, c.dir)

	server := web.NewServer(log.Named("web"), listener, c.db, jobService, queue,
		eventService, engine, c.dir, c.redis, config.API)

	return &API{core: c, Listener: listener, Server: server}, nil
}

// Run serves until the context ends.
func (api *API) Run(ctx context.Context) error {
	api.log.Info("api listening", zap.String("address", api.Listener.Addr().String()))
	return api.Server.Run(ctx)
}

// Close releases the peer's resources.
func (api *API) Close() error {
	return errs.Combine(api.Server.Close(), api.core.close())
}

// Worker is the job execution peer.
type Worker struct {
	*core
	config Config

	Queue   *jobs.Queue
	Jobs    *jobs.Service
	Events  *events.Service
	Store   objectstore.Store
	Handler handlers.Deps
}

// NewWorker assembles the worker peer.
func NewWorker(ctx context.Context, log *zap.Logger, config Config) (*Worker, error) {
	c, err := newCore(ctx, log, config)
	if err != nil {
		return nil, err
	}

	bucket, err := objectstore.NewClient(log.Named("bucket"), config.Bucket, nil)
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, c.close()))
	}
	store := objectstore.NewResilient(log.Named("bucket"), bucket,
		config.Resilience, prometheus.DefaultRegisterer)

	queue := jobs.NewQueue(log.Named("queue"), c.redis)
	eventService := events.NewService(log.Named("events"), c.redis)
	jobService := jobs.NewService(log.Named("jobs"), c.db, queue, eventService, c.dir)

	peer := &Worker{
		core:   c,
		config: config,

		Queue:  queue,
		Jobs:   jobService,
		Events: eventService,
		Store:  store,
		Handler: handlers.Deps{
			Log:       log.Named("handlers"),
			DB:        c.db,
			Dir:       c.dir,
			Ingest:    ingest.NewService(log.Named("ingest"), store, c.db, c.dir, config.Ingest),
			Retention: retention.NewEngine(log.Named("retention"), c.db, c.dir),
			Encoder:   render.NewEncoder(log.Named("encoder"), config.Encoder),
			Notifier:  handlers.NewNotifier(log.Named("notify"), c.db),
		},
	}
	return peer, nil
}

// Run executes the worker loop, restarting it when the resident set
// crosses the memory limit. Restarting sheds whatever the previous
// tasks leaked.
func (peer *Worker) Run(ctx context.Context) error {
	if _, err := peer.Jobs.CleanupStale(ctx); err != nil {
		peer.log.Warn("startup stale cleanup failed", zap.Error(err))
	}

	for {
		worker := jobs.NewWorker(peer.log.Named("worker"), peer.db, peer.Queue, peer.Events, peer.config.Worker)
		handlers.RegisterAll(worker, peer.Handler)

		err := worker.Run(ctx)
		if errors.Is(err, jobs.ErrMemoryLimit) {
			peer.log.Warn("worker over memory limit, restarting")
			continue
		}
		return err
	}
}

// Close releases the peer's resources.
func (peer *Worker) Close() error {
	return peer.core.close()
}

// Beat is the scheduler peer.
type Beat struct {
	*core

	Chore *beat.Chore
}

// NewBeat assembles the beat peer.
func NewBeat(ctx context.Context, log *zap.Logger, config Config) (*Beat, error) {
	c, err := newCore(ctx, log, config)
	if err != nil {
		return nil, err
	}

	queue := jobs.NewQueue(log.Named("queue"), c.redis)
	eventService := events.NewService(log.Named("events"), c.redis)
	jobService := jobs.NewService(log.Named("jobs"), c.db, queue, eventService, c.dir)

	chore := beat.NewChore(log.Named("beat"), c.db, jobService, config.Beat)
	return &Beat{core: c, Chore: chore}, nil
}

// Run drives the chore cycles until the context ends.
func (peer *Beat) Run(ctx context.Context) error {
	return peer.Chore.Run(ctx)
}

// Close releases the peer's resources.
func (peer *Beat) Close() error {
	return errs.Combine(peer.Chore.Close(), peer.core.close())
}
