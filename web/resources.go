// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
)

// pathID parses the named uuid path variable, writing the validation
// error itself. Callers bail on the false return.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(mux.Vars(r)[name])
	if err != nil {
		sendValidationError(w, Error.New("bad %s", name))
		return uuid.UUID{}, false
	}
	return id, true
}

type collectionRequest struct {
	Name string `json:"name"`
}

func (server *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		sendValidationError(w, Error.New("name must not be empty"))
		return
	}
	collection := &catalog.Collection{Name: req.Name}
	if err := server.db.Collections().Create(r.Context(), collection); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, collection)
}

func (server *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := server.db.Collections().List(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

func (server *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	collection, err := server.db.Collections().Get(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	frameIDs, err := server.db.Collections().FrameIDs(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"collection": collection,
		"frame_ids":  frameIDs,
	})
}

func (server *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := server.db.Collections().Delete(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type collectionFrameRequest struct {
	FrameID string `json:"frame_id"`
}

func (server *Server) addCollectionFrame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req collectionFrameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	frameID, err := uuid.FromString(req.FrameID)
	if err != nil {
		sendValidationError(w, Error.New("bad frame id"))
		return
	}
	if err := server.db.Collections().AddFrame(r.Context(), id, frameID); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"added": true})
}

func (server *Server) removeCollectionFrame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	frameID, ok := pathID(w, r, "frame_id")
	if !ok {
		return
	}
	if err := server.db.Collections().RemoveFrame(r.Context(), id, frameID); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"removed": true})
}

type tagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (server *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		sendValidationError(w, Error.New("name must not be empty"))
		return
	}
	tag := &catalog.Tag{Name: req.Name, Color: req.Color}
	if err := server.db.Tags().Create(r.Context(), tag); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, tag)
}

func (server *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := server.db.Tags().List(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (server *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := server.db.Tags().Delete(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type presetRequest struct {
	Kind   string         `json:"kind"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

func parsePresetKind(raw string) (catalog.PresetKind, error) {
	switch kind := catalog.PresetKind(raw); kind {
	case catalog.PresetCrop, catalog.PresetFetch, catalog.PresetAnimation:
		return kind, nil
	}
	return "", Error.New("unknown preset kind %q", raw)
}

func (server *Server) createPreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := parsePresetKind(req.Kind)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		sendValidationError(w, Error.New("name must not be empty"))
		return
	}
	preset := &catalog.Preset{Kind: kind, Name: req.Name, Params: req.Params}
	if err := server.db.Presets().Create(r.Context(), preset); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, preset)
}

func (server *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	var kind catalog.PresetKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		parsed, err := parsePresetKind(raw)
		if err != nil {
			sendValidationError(w, err)
			return
		}
		kind = parsed
	}
	presets, err := server.db.Presets().List(r.Context(), kind)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"presets": presets})
}

func (server *Server) updatePreset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req presetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	preset, err := server.db.Presets().Get(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	if req.Name != "" {
		preset.Name = strings.TrimSpace(req.Name)
	}
	if req.Params != nil {
		preset.Params = req.Params
	}
	if err := server.db.Presets().Update(r.Context(), preset); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, preset)
}

func (server *Server) deletePreset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := server.db.Presets().Delete(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type scheduleRequest struct {
	PresetID        string `json:"preset_id"`
	IntervalMinutes int    `json:"interval_minutes"`
	IsActive        *bool  `json:"is_active"`
}

func (server *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	presetID, err := uuid.FromString(req.PresetID)
	if err != nil {
		sendValidationError(w, Error.New("bad preset id"))
		return
	}
	if req.IntervalMinutes < 1 {
		sendValidationError(w, Error.New("interval_minutes must be positive"))
		return
	}
	preset, err := server.db.Presets().Get(r.Context(), presetID)
	if err != nil {
		sendError(w, err)
		return
	}
	if preset.Kind != catalog.PresetFetch {
		sendValidationError(w, Error.New("schedules need a fetch preset, got %s", preset.Kind))
		return
	}

	schedule := &catalog.FetchSchedule{
		PresetID:        presetID,
		IntervalMinutes: req.IntervalMinutes,
		IsActive:        true,
	}
	if req.IsActive != nil {
		schedule.IsActive = *req.IsActive
	}
	if schedule.IsActive {
		next := time.Now().UTC().Add(time.Duration(req.IntervalMinutes) * time.Minute)
		schedule.NextRunAt = &next
	}
	if err := server.db.Schedules().Create(r.Context(), schedule); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, schedule)
}

func (server *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := server.db.Schedules().List(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (server *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	schedule, err := server.db.Schedules().Get(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	if req.IntervalMinutes != 0 {
		if req.IntervalMinutes < 1 {
			sendValidationError(w, Error.New("interval_minutes must be positive"))
			return
		}
		schedule.IntervalMinutes = req.IntervalMinutes
	}
	if req.PresetID != "" {
		presetID, err := uuid.FromString(req.PresetID)
		if err != nil {
			sendValidationError(w, Error.New("bad preset id"))
			return
		}
		schedule.PresetID = presetID
	}
	if err := server.db.Schedules().Update(r.Context(), schedule); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, schedule)
}

func (server *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := server.db.Schedules().Delete(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (server *Server) toggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	schedule, err := server.db.Schedules().Toggle(r.Context(), id, time.Now().UTC())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, schedule)
}

type cleanupRuleRequest struct {
	RuleType           string  `json:"rule_type"`
	Value              float64 `json:"value"`
	ProtectCollections bool    `json:"protect_collections"`
	IsActive           *bool   `json:"is_active"`
}

func parseRuleType(raw string) (catalog.CleanupRuleType, error) {
	switch ruleType := catalog.CleanupRuleType(raw); ruleType {
	case catalog.RuleMaxAgeDays, catalog.RuleMaxStorageGB:
		return ruleType, nil
	}
	return "", Error.New("unknown rule type %q", raw)
}

func (server *Server) createCleanupRule(w http.ResponseWriter, r *http.Request) {
	var req cleanupRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ruleType, err := parseRuleType(req.RuleType)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	if req.Value <= 0 {
		sendValidationError(w, Error.New("value must be positive"))
		return
	}

	rule := &catalog.CleanupRule{
		RuleType:           ruleType,
		Value:              req.Value,
		ProtectCollections: req.ProtectCollections,
		IsActive:           true,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := server.db.CleanupRules().Create(r.Context(), rule); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, rule)
}

func (server *Server) listCleanupRules(w http.ResponseWriter, r *http.Request) {
	rules, err := server.db.CleanupRules().List(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (server *Server) updateCleanupRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req cleanupRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ruleType, err := parseRuleType(req.RuleType)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	if req.Value <= 0 {
		sendValidationError(w, Error.New("value must be positive"))
		return
	}

	rule := &catalog.CleanupRule{
		ID:                 id,
		RuleType:           ruleType,
		Value:              req.Value,
		ProtectCollections: req.ProtectCollections,
		IsActive:           true,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := server.db.CleanupRules().Update(r.Context(), rule); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, rule)
}

func (server *Server) deleteCleanupRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := server.db.CleanupRules().Delete(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// previewCleanup evaluates the rules synchronously; nothing is deleted.
func (server *Server) previewCleanup(w http.ResponseWriter, r *http.Request) {
	preview, err := server.retention.Preview(r.Context(), time.Now().UTC())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, preview)
}

// runCleanup dispatches the deletion as a job so large purges don't tie
// up a request.
func (server *Server) runCleanup(w http.ResponseWriter, r *http.Request) {
	job, err := server.jobs.Dispatch(r.Context(), catalog.JobCleanup, map[string]any{"source": "api"})
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, envelope(job))
}
