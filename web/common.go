// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package web is the HTTP surface: the JSON API, the Prometheus
// exposition endpoint and the WebSocket progress bridge.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/goeswatch/goeswatch/catalog"
)

var (
	// Error is the web error class.
	Error = errs.Class("web")

	mon = monkit.Package()
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func sendJSONData(w http.ResponseWriter, code int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func sendJSON(w http.ResponseWriter, code int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		sendJSONError(w, "internal error", err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONData(w, code, data)
}

func sendJSONError(w http.ResponseWriter, kind, detail string, code int) {
	data, _ := json.Marshal(errorEnvelope{Error: kind, Detail: detail})
	sendJSONData(w, code, data)
}

// sendError maps catalog error classes onto status codes.
func sendError(w http.ResponseWriter, err error) {
	switch {
	case catalog.ErrNotFound.Has(err):
		sendJSONError(w, "not found", err.Error(), http.StatusNotFound)
	case catalog.ErrConflict.Has(err):
		sendJSONError(w, "conflict", err.Error(), http.StatusConflict)
	default:
		sendJSONError(w, "internal error", err.Error(), http.StatusInternalServerError)
	}
}

func sendValidationError(w http.ResponseWriter, err error) {
	sendJSONError(w, "validation failed", err.Error(), http.StatusUnprocessableEntity)
}

// decodeJSON reads a request body, rejecting unknown garbage early.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		sendJSONError(w, "validation failed", "malformed JSON body: "+err.Error(), http.StatusUnprocessableEntity)
		return false
	}
	return true
}
