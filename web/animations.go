// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"net/http"

	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/render"
)

type cropBody struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type animationRequest struct {
	FrameIDs     []string  `json:"frame_ids"`
	CollectionID string    `json:"collection_id"`
	Satellite    string    `json:"satellite"`
	Sector       string    `json:"sector"`
	Band         string    `json:"band"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
	Hours        int       `json:"hours"`
	FPS          int       `json:"fps"`
	Format       string    `json:"format"`
	Quality      string    `json:"quality"`
	LoopStyle    string    `json:"loop_style"`
	Scale        float64   `json:"scale"`
	Crop         *cropBody `json:"crop"`
	CropPresetID string    `json:"crop_preset_id"`
	PreviewWidth int       `json:"preview_width"`
}

// animationMode is which frame-selection inputs an endpoint requires.
type animationMode int

const (
	modeExplicit animationMode = iota
	modeRange
	modeRecent
)

func (req *animationRequest) validate(mode animationMode) error {
	if req.FPS == 0 {
		req.FPS = 10
	}
	if req.FPS < 1 || req.FPS > 60 {
		return Error.New("fps must be in [1, 60]")
	}
	if req.Format == "" {
		req.Format = "mp4"
	}
	if req.Format != "mp4" && req.Format != "gif" {
		return Error.New("format must be mp4 or gif")
	}
	if _, err := render.Quality(req.Quality).CRF(); err != nil {
		return err
	}
	if _, err := render.ParseLoopStyle(req.LoopStyle); err != nil {
		return err
	}
	if req.Scale == 0 {
		req.Scale = 1.0
	}
	if req.Scale < render.MinScale || req.Scale > render.MaxScale {
		return Error.New("scale must be in [%v, %v]", render.MinScale, render.MaxScale)
	}
	if req.Crop != nil && (req.Crop.Width <= 0 || req.Crop.Height <= 0) {
		return Error.New("crop needs positive width and height")
	}
	if req.CropPresetID != "" {
		if req.Crop != nil {
			return Error.New("crop and crop_preset_id are mutually exclusive")
		}
		if _, err := uuid.FromString(req.CropPresetID); err != nil {
			return Error.New("bad crop preset id %q", req.CropPresetID)
		}
	}
	if req.PreviewWidth < 0 {
		return Error.New("preview_width must not be negative")
	}

	switch mode {
	case modeExplicit:
		if len(req.FrameIDs) == 0 && req.CollectionID == "" {
			return Error.New("frame_ids or collection_id required")
		}
		for _, raw := range req.FrameIDs {
			if _, err := uuid.FromString(raw); err != nil {
				return Error.New("bad frame id %q", raw)
			}
		}
		if req.CollectionID != "" {
			if _, err := uuid.FromString(req.CollectionID); err != nil {
				return Error.New("bad collection id %q", req.CollectionID)
			}
		}
	case modeRange:
		if err := req.validateFilter(); err != nil {
			return err
		}
		if _, _, err := parseWindow(req.Start, req.End); err != nil {
			return err
		}
	case modeRecent:
		if err := req.validateFilter(); err != nil {
			return err
		}
		if req.Hours < 1 || req.Hours > 168 {
			return Error.New("hours must be in [1, 168]")
		}
	}
	return nil
}

func (req *animationRequest) validateFilter() error {
	if _, err := goes.ParseSatellite(req.Satellite); err != nil {
		return err
	}
	if _, err := goes.ParseSector(req.Sector); err != nil {
		return err
	}
	if _, err := goes.ParseBand(req.Band); err != nil {
		return err
	}
	return nil
}

func (req *animationRequest) params(animationID uuid.UUID) map[string]any {
	params := map[string]any{
		"animation_id": animationID.String(),
		"fps":          req.FPS,
		"format":       req.Format,
		"quality":      req.Quality,
		"loop_style":   req.LoopStyle,
		"scale":        req.Scale,
	}
	if len(req.FrameIDs) > 0 {
		ids := make([]any, 0, len(req.FrameIDs))
		for _, id := range req.FrameIDs {
			ids = append(ids, id)
		}
		params["frame_ids"] = ids
	}
	if req.CollectionID != "" {
		params["collection_id"] = req.CollectionID
	}
	if req.Satellite != "" {
		params["satellite"] = req.Satellite
		params["sector"] = req.Sector
		params["band"] = req.Band
	}
	if req.Hours > 0 {
		params["hours"] = req.Hours
	} else if req.Start != "" {
		params["start"] = req.Start
		params["end"] = req.End
	}
	if req.Crop != nil {
		params["crop"] = map[string]any{
			"x": req.Crop.X, "y": req.Crop.Y,
			"width": req.Crop.Width, "height": req.Crop.Height,
		}
	}
	if req.CropPresetID != "" {
		params["crop_preset_id"] = req.CropPresetID
	}
	if req.PreviewWidth > 0 {
		params["preview_width"] = req.PreviewWidth
	}
	return params
}

// dispatchAnimationJob creates the job row and its pending artifact,
// then enqueues.
func (server *Server) dispatchAnimationJob(r *http.Request, req *animationRequest) (*catalog.Job, error) {
	animationID, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var frameIDs []uuid.UUID
	for _, raw := range req.FrameIDs {
		id, _ := uuid.FromString(raw)
		frameIDs = append(frameIDs, id)
	}

	job := &catalog.Job{Type: catalog.JobAnimation, Params: req.params(animationID)}
	if err := server.db.Jobs().Create(r.Context(), job); err != nil {
		return nil, err
	}
	animation := &catalog.Animation{
		ID:        animationID,
		JobID:     job.ID,
		Status:    catalog.JobPending,
		Format:    req.Format,
		FPS:       req.FPS,
		LoopStyle: req.LoopStyle,
		FrameIDs:  frameIDs,
	}
	if err := server.db.Artifacts().CreateAnimation(r.Context(), animation); err != nil {
		return nil, err
	}
	if err := server.jobs.Enqueue(r.Context(), job); err != nil {
		return nil, err
	}
	return job, nil
}

func (server *Server) dispatchAnimationMode(w http.ResponseWriter, r *http.Request, mode animationMode) {
	var req animationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(mode); err != nil {
		sendValidationError(w, err)
		return
	}
	job, err := server.dispatchAnimationJob(r, &req)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, envelope(job))
}

func (server *Server) dispatchAnimation(w http.ResponseWriter, r *http.Request) {
	server.dispatchAnimationMode(w, r, modeExplicit)
}

func (server *Server) dispatchAnimationFromRange(w http.ResponseWriter, r *http.Request) {
	server.dispatchAnimationMode(w, r, modeRange)
}

func (server *Server) dispatchAnimationRecent(w http.ResponseWriter, r *http.Request) {
	server.dispatchAnimationMode(w, r, modeRecent)
}

type animationBatchRequest struct {
	Animations []animationRequest `json:"animations"`
}

func (server *Server) dispatchAnimationBatch(w http.ResponseWriter, r *http.Request) {
	var batch animationBatchRequest
	if !decodeJSON(w, r, &batch) {
		return
	}
	if len(batch.Animations) == 0 {
		sendValidationError(w, Error.New("animations must not be empty"))
		return
	}

	// Validate everything up front so a batch is all-or-nothing at the
	// validation stage.
	for i := range batch.Animations {
		req := &batch.Animations[i]
		mode := modeExplicit
		if req.Hours > 0 {
			mode = modeRecent
		} else if req.Start != "" || req.End != "" {
			mode = modeRange
		}
		if err := req.validate(mode); err != nil {
			sendValidationError(w, Error.New("animation %d: %v", i, err))
			return
		}
	}

	envelopes := make([]jobEnvelope, 0, len(batch.Animations))
	for i := range batch.Animations {
		job, err := server.dispatchAnimationJob(r, &batch.Animations[i])
		if err != nil {
			sendError(w, err)
			return
		}
		envelopes = append(envelopes, envelope(job))
	}
	sendJSON(w, http.StatusAccepted, map[string]any{"jobs": envelopes})
}

func (server *Server) listAnimations(w http.ResponseWriter, r *http.Request) {
	animations, err := server.db.Artifacts().ListAnimations(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"animations": animations})
}
