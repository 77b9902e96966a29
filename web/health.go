// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"net/http"

	"github.com/goeswatch/goeswatch/version"
)

func (server *Server) health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// componentHealth is one dependency check in the detailed report.
type componentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func checkResult(err error) componentHealth {
	if err != nil {
		return componentHealth{Status: "error", Detail: err.Error()}
	}
	return componentHealth{Status: "ok"}
}

// healthDetailed checks every dependency. The overall status degrades
// but the endpoint itself always answers 200 so probes can read it.
func (server *Server) healthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	database := checkResult(server.db.Ping(ctx))
	broker := checkResult(server.redis.Ping(ctx).Err())

	storage := componentHealth{Status: "ok"}
	free, err := server.dir.FreeBytes(ctx)
	if err != nil {
		storage = checkResult(err)
	}

	workers, err := server.queue.Workers(ctx)
	if err != nil {
		server.log.Warn("worker listing failed")
		workers = nil
	}
	alive := 0
	for _, worker := range workers {
		if worker.Alive {
			alive++
		}
	}

	status := "ok"
	if database.Status != "ok" || broker.Status != "ok" || storage.Status != "ok" {
		status = "degraded"
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"database": database,
		"redis":    broker,
		"storage": map[string]any{
			"status":     storage.Status,
			"detail":     storage.Detail,
			"free_bytes": free,
			"root":       server.dir.Root(),
		},
		"workers": map[string]any{
			"alive": alive,
			"known": workers,
		},
	})
}

func (server *Server) healthVersion(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, version.Build())
}
