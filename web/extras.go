// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/goeswatch/goeswatch/catalog"
)

// Share link defaults and bounds, in hours.
const (
	DefaultShareHours = 24
	MaxShareHours     = 24 * 30
)

type shareRequest struct {
	ExpiresHours int `json:"expires_hours"`
}

func newShareToken() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", Error.Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

func (server *Server) createShareLink(w http.ResponseWriter, r *http.Request) {
	frame := server.frameFromVars(w, r)
	if frame == nil {
		return
	}
	var req shareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExpiresHours == 0 {
		req.ExpiresHours = DefaultShareHours
	}
	if req.ExpiresHours < 1 || req.ExpiresHours > MaxShareHours {
		sendValidationError(w, Error.New("expires_hours must be in [1, %d]", MaxShareHours))
		return
	}

	token, err := newShareToken()
	if err != nil {
		sendError(w, err)
		return
	}
	link := &catalog.ShareLink{
		Token:     token,
		FrameID:   frame.ID,
		ExpiresAt: time.Now().UTC().Add(time.Duration(req.ExpiresHours) * time.Hour),
	}
	if err := server.db.ShareLinks().Create(r.Context(), link); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]any{
		"token":      link.Token,
		"url":        "/api/shared/" + link.Token,
		"expires_at": link.ExpiresAt,
	})
}

// serveSharedFrame is the unauthenticated share path. Expired links get
// a 403 rather than 404 so the holder knows the link existed.
func (server *Server) serveSharedFrame(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	link, err := server.db.ShareLinks().Get(r.Context(), token)
	if err != nil {
		sendError(w, err)
		return
	}
	if time.Now().UTC().After(link.ExpiresAt) {
		sendJSONError(w, "forbidden", "share link expired", http.StatusForbidden)
		return
	}
	frame, err := server.db.Frames().Get(r.Context(), link.FrameID)
	if err != nil {
		sendError(w, err)
		return
	}
	server.serveStoredFile(w, r, frame.FilePath)
}

func (server *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unreadOnly := q.Get("unread_only") == "true"
	limit := DefaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > MaxPageLimit {
			sendValidationError(w, Error.New("limit must be in [1, %d]", MaxPageLimit))
			return
		}
		limit = parsed
	}

	notifications, err := server.db.Notifications().List(r.Context(), unreadOnly, limit)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (server *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := server.db.Notifications().MarkRead(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"read": true})
}

func (server *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := server.db.Notifications().MarkAllRead(r.Context()); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"read": true})
}

func (server *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	maxFrames, err := server.db.Settings().MaxFramesPerFetch(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	webhookURL, _, err := server.db.Settings().Get(r.Context(), catalog.SettingWebhookURL)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"max_frames_per_fetch": maxFrames,
		"webhook_url":          webhookURL,
	})
}

type settingsRequest struct {
	MaxFramesPerFetch *int    `json:"max_frames_per_fetch"`
	WebhookURL        *string `json:"webhook_url"`
}

// updateSettings applies a partial update; absent fields keep their
// stored values.
func (server *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MaxFramesPerFetch != nil {
		if *req.MaxFramesPerFetch < 1 || *req.MaxFramesPerFetch > 1000 {
			sendValidationError(w, Error.New("max_frames_per_fetch must be in [1, 1000]"))
			return
		}
		err := server.db.Settings().Set(r.Context(), catalog.SettingMaxFramesPerFetch,
			strconv.Itoa(*req.MaxFramesPerFetch))
		if err != nil {
			sendError(w, err)
			return
		}
	}
	if req.WebhookURL != nil {
		if err := server.db.Settings().Set(r.Context(), catalog.SettingWebhookURL, *req.WebhookURL); err != nil {
			sendError(w, err)
			return
		}
	}
	server.getSettings(w, r)
}
