// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/events"
	"github.com/goeswatch/goeswatch/jobs"
	"github.com/goeswatch/goeswatch/retention"
	"github.com/goeswatch/goeswatch/storagedir"
)

// Config is the HTTP server configuration.
type Config struct {
	Address     string   `help:"api listening address" default:":8000"`
	APIKey      string   `help:"shared secret for X-API-Key auth; empty disables auth" default:""`
	CORSOrigins []string `help:"allowed CORS origins; empty allows none"`
	MaxWSPerIP  int      `help:"websocket connections allowed per client ip" default:"10"`
}

// Server is the API peer's HTTP endpoint.
type Server struct {
	log      *zap.Logger
	listener net.Listener
	server   http.Server
	config   Config

	db        catalog.DB
	jobs      *jobs.Service
	queue     *jobs.Queue
	events    *events.Service
	retention *retention.Engine
	dir       *storagedir.Dir
	redis     redis.UniversalClient

	wsConns *ipCounter
}

// NewServer builds the server and its route table.
func NewServer(log *zap.Logger, listener net.Listener, db catalog.DB, jobService *jobs.Service, queue *jobs.Queue, eventService *events.Service, retentionEngine *retention.Engine, dir *storagedir.Dir, redisClient redis.UniversalClient, config Config) *Server {
	if config.MaxWSPerIP <= 0 {
		config.MaxWSPerIP = 10
	}
	server := &Server{
		log:      log,
		listener: listener,
		config:   config,

		db:        db,
		jobs:      jobService,
		queue:     queue,
		events:    eventService,
		retention: retentionEngine,
		dir:       dir,
		redis:     redisClient,

		wsConns: newIPCounter(config.MaxWSPerIP),
	}

	root := mux.NewRouter()
	root.Use(server.withRequestID)
	root.Use(server.withSecurityHeaders)
	root.Use(server.withCORS)

	api := root.PathPrefix("/api/").Subrouter()
	api.Use(server.withAuth)

	goesAPI := api.PathPrefix("/goes").Subrouter()
	goesAPI.HandleFunc("/products", server.listProducts).Methods("GET")
	goesAPI.HandleFunc("/fetch", server.dispatchFetch).Methods("POST")
	goesAPI.HandleFunc("/backfill", server.dispatchBackfill).Methods("POST")
	goesAPI.HandleFunc("/fetch-composite", server.dispatchFetchComposite).Methods("POST")
	goesAPI.HandleFunc("/composites", server.dispatchComposite).Methods("POST")
	goesAPI.HandleFunc("/composites", server.listComposites).Methods("GET")
	goesAPI.HandleFunc("/animations/from-range", server.dispatchAnimationFromRange).Methods("POST")
	goesAPI.HandleFunc("/animations/recent", server.dispatchAnimationRecent).Methods("POST")
	goesAPI.HandleFunc("/animations/batch", server.dispatchAnimationBatch).Methods("POST")
	goesAPI.HandleFunc("/animations", server.dispatchAnimation).Methods("POST")
	goesAPI.HandleFunc("/animations", server.listAnimations).Methods("GET")

	// Static frame routes have to land before the {frame_id} routes.
	goesAPI.HandleFunc("/frames/stats", server.frameStats).Methods("GET")
	goesAPI.HandleFunc("/frames/process", server.dispatchImageProcess).Methods("POST")
	goesAPI.HandleFunc("/frames", server.listFrames).Methods("GET")
	goesAPI.HandleFunc("/frames", server.bulkDeleteFrames).Methods("DELETE")
	goesAPI.HandleFunc("/frames/{frame_id}", server.getFrame).Methods("GET")
	goesAPI.HandleFunc("/frames/{frame_id}/file", server.serveFrameFile).Methods("GET")
	goesAPI.HandleFunc("/frames/{frame_id}/thumbnail", server.serveFrameThumbnail).Methods("GET")
	goesAPI.HandleFunc("/frames/{frame_id}/share", server.createShareLink).Methods("POST")
	goesAPI.HandleFunc("/latest", server.latestFrame).Methods("GET")
	goesAPI.HandleFunc("/gaps", server.detectGaps).Methods("GET")

	goesAPI.HandleFunc("/collections", server.createCollection).Methods("POST")
	goesAPI.HandleFunc("/collections", server.listCollections).Methods("GET")
	goesAPI.HandleFunc("/collections/{id}", server.getCollection).Methods("GET")
	goesAPI.HandleFunc("/collections/{id}", server.deleteCollection).Methods("DELETE")
	goesAPI.HandleFunc("/collections/{id}/frames", server.addCollectionFrame).Methods("POST")
	goesAPI.HandleFunc("/collections/{id}/frames/{frame_id}", server.removeCollectionFrame).Methods("DELETE")

	goesAPI.HandleFunc("/tags", server.createTag).Methods("POST")
	goesAPI.HandleFunc("/tags", server.listTags).Methods("GET")
	goesAPI.HandleFunc("/tags/{id}", server.deleteTag).Methods("DELETE")

	goesAPI.HandleFunc("/presets", server.createPreset).Methods("POST")
	goesAPI.HandleFunc("/presets", server.listPresets).Methods("GET")
	goesAPI.HandleFunc("/presets/{id}", server.updatePreset).Methods("PUT")
	goesAPI.HandleFunc("/presets/{id}", server.deletePreset).Methods("DELETE")

	goesAPI.HandleFunc("/schedules", server.createSchedule).Methods("POST")
	goesAPI.HandleFunc("/schedules", server.listSchedules).Methods("GET")
	goesAPI.HandleFunc("/schedules/{id}", server.updateSchedule).Methods("PUT")
	goesAPI.HandleFunc("/schedules/{id}", server.deleteSchedule).Methods("DELETE")
	goesAPI.HandleFunc("/schedules/{id}/toggle", server.toggleSchedule).Methods("POST")

	goesAPI.HandleFunc("/cleanup/rules", server.createCleanupRule).Methods("POST")
	goesAPI.HandleFunc("/cleanup/rules", server.listCleanupRules).Methods("GET")
	goesAPI.HandleFunc("/cleanup/rules/{id}", server.updateCleanupRule).Methods("PUT")
	goesAPI.HandleFunc("/cleanup/rules/{id}", server.deleteCleanupRule).Methods("DELETE")
	goesAPI.HandleFunc("/cleanup/preview", server.previewCleanup).Methods("GET")
	goesAPI.HandleFunc("/cleanup/run", server.runCleanup).Methods("POST")

	api.HandleFunc("/jobs/cleanup-stale", server.cleanupStaleJobs).Methods("POST")
	api.HandleFunc("/jobs/bulk", server.bulkDeleteJobs).Methods("DELETE")
	api.HandleFunc("/jobs", server.listJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", server.getJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", server.patchJob).Methods("PATCH")
	api.HandleFunc("/jobs/{id}", server.deleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/cancel", server.cancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/logs", server.jobLogs).Methods("GET")
	api.HandleFunc("/jobs/{id}/download", server.downloadJob).Methods("GET")

	api.HandleFunc("/notifications", server.listNotifications).Methods("GET")
	api.HandleFunc("/notifications/read-all", server.markAllNotificationsRead).Methods("POST")
	api.HandleFunc("/notifications/{id}/read", server.markNotificationRead).Methods("POST")

	api.HandleFunc("/settings", server.getSettings).Methods("GET")
	api.HandleFunc("/settings", server.updateSettings).Methods("PUT")

	api.HandleFunc("/shared/{token}", server.serveSharedFrame).Methods("GET")

	api.HandleFunc("/health", server.health).Methods("GET")
	api.HandleFunc("/health/detailed", server.healthDetailed).Methods("GET")
	api.HandleFunc("/health/version", server.healthVersion).Methods("GET")
	api.Handle("/metrics", promhttp.Handler()).Methods("GET")

	root.HandleFunc("/ws/jobs/{id}", server.wsJob)
	root.HandleFunc("/ws/events", server.wsEvents)
	root.HandleFunc("/ws/status", server.wsStatus)

	server.server.Handler = root
	return server
}

// Run serves until the context is cancelled.
func (server *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close closes the server and its listener.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// Handler exposes the route table for tests.
func (server *Server) Handler() http.Handler { return server.server.Handler }

// authExempt paths skip the API key check.
func authExempt(path string) bool {
	return strings.HasPrefix(path, "/api/health") ||
		path == "/api/metrics" ||
		strings.HasPrefix(path, "/api/shared/")
}

func (server *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if server.config.APIKey == "" || authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !validAPIKey(server.config.APIKey, r.Header.Get("X-API-Key")) {
			sendJSONError(w, "forbidden", "missing or invalid X-API-Key", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validAPIKey(configured, sent string) bool {
	return subtle.ConstantTimeCompare([]byte(configured), []byte(sent)) == 1
}

// withRequestID echoes a well-formed X-Request-ID or mints a fresh one.
func (server *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// validRequestID accepts 8-hex ids or alphanumeric ids up to 64 chars.
func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
		default:
			return false
		}
	}
	return true
}

func newRequestID() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

func (server *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func (server *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && server.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (server *Server) originAllowed(origin string) bool {
	for _, allowed := range server.config.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
