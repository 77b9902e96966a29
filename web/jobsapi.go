// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"archive/zip"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/jobs"
)

func parseListJobs(r *http.Request) (catalog.ListJobsOptions, error) {
	q := r.URL.Query()
	opts := catalog.ListJobsOptions{Page: 1, Limit: DefaultPageLimit}

	if raw := q.Get("status"); raw != "" {
		status := catalog.JobStatus(raw)
		switch status {
		case catalog.JobPending, catalog.JobProcessing, catalog.JobCompleted,
			catalog.JobCompletedPartial, catalog.JobFailed, catalog.JobCancelled:
			opts.Status = status
		default:
			return opts, Error.New("unknown status %q", raw)
		}
	}
	opts.Type = catalog.JobType(q.Get("type"))

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return opts, Error.New("page must be a positive integer")
		}
		opts.Page = page
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxPageLimit {
			return opts, Error.New("limit must be in [1, %d]", MaxPageLimit)
		}
		opts.Limit = limit
	}
	return opts, nil
}

func (server *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListJobs(r)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	list, total, err := server.db.Jobs().List(r.Context(), opts)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"total": total,
		"page":  opts.Page,
		"limit": opts.Limit,
	})
}

func (server *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := server.db.Jobs().Get(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, job)
}

type patchJobRequest struct {
	Status string `json:"status"`
}

// patchJob accepts only the cancelled transition; everything else about
// a job belongs to the worker.
func (server *Server) patchJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req patchJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if catalog.JobStatus(req.Status) != catalog.JobCancelled {
		sendValidationError(w, Error.New("only the cancelled status may be requested"))
		return
	}
	server.cancel(w, r, id)
}

func (server *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	server.cancel(w, r, id)
}

func (server *Server) cancel(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	err := server.jobs.Cancel(r.Context(), id)
	switch {
	case err == nil:
	case jobs.ErrInvalidTransition.Has(err):
		sendJSONError(w, "conflict", err.Error(), http.StatusConflict)
		return
	default:
		sendError(w, err)
		return
	}
	job, err := server.db.Jobs().Get(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"cancelled": true, "job": job})
}

func (server *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deleteFiles := r.URL.Query().Get("delete_files") == "true"
	if err := server.jobs.Delete(r.Context(), id, deleteFiles); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type bulkDeleteJobsRequest struct {
	IDs         []string `json:"ids"`
	DeleteFiles bool     `json:"delete_files"`
}

func (server *Server) bulkDeleteJobs(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteJobsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, err := bulkIDsRequest{IDs: req.IDs}.parse()
	if err != nil {
		sendValidationError(w, err)
		return
	}

	deleted := 0
	for _, id := range ids {
		if err := server.jobs.Delete(r.Context(), id, req.DeleteFiles); err != nil {
			if catalog.ErrNotFound.Has(err) {
				continue
			}
			sendError(w, err)
			return
		}
		deleted++
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (server *Server) jobLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := server.db.Jobs().Get(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	logLines, err := server.db.JobLogs().List(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"logs": logLines})
}

// downloadJob streams the job's output directory as a zip archive.
func (server *Server) downloadJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := server.db.Jobs().Get(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	outDir, err := server.dir.Resolve("output/goes_" + id.String())
	if err != nil {
		sendJSONError(w, "forbidden", err.Error(), http.StatusForbidden)
		return
	}
	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		sendJSONError(w, "not found", "job has no output", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="goes_`+id.String()+`.zip"`)

	archive := zip.NewWriter(w)
	err = filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		entry, err := archive.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()
		_, err = io.Copy(entry, file)
		return err
	})
	if err != nil {
		// Headers are gone; all we can do is log and drop the connection.
		server.log.Warn("job download failed", zap.String("job_id", id.String()), zap.Error(err))
	}
	if err := archive.Close(); err != nil {
		server.log.Warn("zip finalize failed", zap.Error(err))
	}
}

func (server *Server) cleanupStaleJobs(w http.ResponseWriter, r *http.Request) {
	reaped, err := server.jobs.CleanupStale(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"reaped": reaped})
}
