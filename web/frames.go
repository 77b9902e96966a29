// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/gaps"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/render"
)

// Listing page bounds.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// parseListFrames translates query parameters into catalog options.
func parseListFrames(r *http.Request) (catalog.ListFramesOptions, error) {
	q := r.URL.Query()
	opts := catalog.ListFramesOptions{
		SortKey:    catalog.SortCaptureTime,
		Descending: true,
		Page:       1,
		Limit:      DefaultPageLimit,
	}

	if raw := q.Get("satellite"); raw != "" {
		satellite, err := goes.ParseSatellite(raw)
		if err != nil {
			return opts, err
		}
		opts.Satellite = satellite
	}
	if raw := q.Get("sector"); raw != "" {
		sector, err := goes.ParseSector(raw)
		if err != nil {
			return opts, err
		}
		opts.Sector = sector
	}
	if raw := q.Get("band"); raw != "" {
		band, err := goes.ParseBand(raw)
		if err != nil {
			return opts, err
		}
		opts.Band = band
	}
	if raw := q.Get("start_date"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, Error.New("bad start_date: %v", err)
		}
		start = start.UTC()
		opts.Start = &start
	}
	if raw := q.Get("end_date"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, Error.New("bad end_date: %v", err)
		}
		end = end.UTC()
		opts.End = &end
	}
	if raw := q.Get("collection_id"); raw != "" {
		id, err := uuid.FromString(raw)
		if err != nil {
			return opts, Error.New("bad collection_id %q", raw)
		}
		opts.CollectionID = &id
	}
	opts.Tag = q.Get("tag")

	if raw := q.Get("sort_by"); raw != "" {
		key := catalog.FrameSortKey(raw)
		if !key.Valid() {
			return opts, Error.New("unknown sort key %q", raw)
		}
		opts.SortKey = key
	}
	switch q.Get("order") {
	case "", "desc":
	case "asc":
		opts.Descending = false
	default:
		return opts, Error.New("order must be asc or desc")
	}

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

func (server *Server) listFrames(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListFrames(r)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	frames, total, err := server.db.Frames().List(r.Context(), opts)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"frames": frames,
		"total":  total,
		"page":   opts.Page,
		"limit":  opts.Limit,
	})
}

type bulkIDsRequest struct {
	IDs []string `json:"ids"`
}

func (req bulkIDsRequest) parse() ([]uuid.UUID, error) {
	if len(req.IDs) == 0 {
		return nil, Error.New("ids must not be empty")
	}
	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.FromString(raw)
		if err != nil {
			return nil, Error.New("bad id %q", raw)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (server *Server) bulkDeleteFrames(w http.ResponseWriter, r *http.Request) {
	var req bulkIDsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, err := req.parse()
	if err != nil {
		sendValidationError(w, err)
		return
	}

	refs, err := server.db.Frames().Delete(r.Context(), ids)
	if err != nil {
		sendError(w, err)
		return
	}
	for _, ref := range refs {
		if err := server.dir.Remove(ref.FilePath); err != nil {
			server.log.Warn("frame file removal failed", zap.String("path", ref.FilePath), zap.Error(err))
		}
		if err := server.dir.Remove(ref.ThumbnailPath); err != nil {
			server.log.Warn("thumbnail removal failed", zap.Error(err))
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"deleted": len(refs)})
}

func (server *Server) frameStats(w http.ResponseWriter, r *http.Request) {
	stats, err := server.db.Frames().Stats(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

// frameFromVars loads the frame addressed by the frame_id path variable.
func (server *Server) frameFromVars(w http.ResponseWriter, r *http.Request) *catalog.Frame {
	id, err := uuid.FromString(mux.Vars(r)["frame_id"])
	if err != nil {
		sendValidationError(w, Error.New("bad frame id"))
		return nil
	}
	frame, err := server.db.Frames().Get(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return nil
	}
	return frame
}

func (server *Server) getFrame(w http.ResponseWriter, r *http.Request) {
	frame := server.frameFromVars(w, r)
	if frame == nil {
		return
	}
	sendJSON(w, http.StatusOK, frame)
}

// serveStoredFile resolves a catalog path against the storage root and
// streams it. Rows pointing outside the root are refused.
func (server *Server) serveStoredFile(w http.ResponseWriter, r *http.Request, stored string) {
	if stored == "" {
		sendJSONError(w, "not found", "no file recorded", http.StatusNotFound)
		return
	}
	path, err := server.dir.Resolve(stored)
	if err != nil {
		sendJSONError(w, "forbidden", err.Error(), http.StatusForbidden)
		return
	}
	http.ServeFile(w, r, path)
}

func (server *Server) serveFrameFile(w http.ResponseWriter, r *http.Request) {
	frame := server.frameFromVars(w, r)
	if frame == nil {
		return
	}
	server.serveStoredFile(w, r, frame.FilePath)
}

func (server *Server) serveFrameThumbnail(w http.ResponseWriter, r *http.Request) {
	frame := server.frameFromVars(w, r)
	if frame == nil {
		return
	}
	server.serveStoredFile(w, r, frame.ThumbnailPath)
}

// parseFrameFilter reads the required satellite/sector/band query triple.
func parseFrameFilter(r *http.Request) (goes.Satellite, goes.Sector, goes.Band, error) {
	q := r.URL.Query()
	satellite, err := goes.ParseSatellite(q.Get("satellite"))
	if err != nil {
		return "", "", "", err
	}
	sector, err := goes.ParseSector(q.Get("sector"))
	if err != nil {
		return "", "", "", err
	}
	band, err := goes.ParseBand(q.Get("band"))
	if err != nil {
		return "", "", "", err
	}
	return satellite, sector, band, nil
}

func (server *Server) latestFrame(w http.ResponseWriter, r *http.Request) {
	satellite, sector, band, err := parseFrameFilter(r)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	frame, err := server.db.Frames().Latest(r.Context(), satellite, sector, band)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, frame)
}

func (server *Server) detectGaps(w http.ResponseWriter, r *http.Request) {
	satellite, sector, band, err := parseFrameFilter(r)
	if err != nil {
		sendValidationError(w, err)
		return
	}

	interval := sector.CadenceMinutes()
	if raw := r.URL.Query().Get("interval_minutes"); raw != "" {
		interval, err = strconv.Atoi(raw)
		if err != nil || interval < 1 {
			sendValidationError(w, Error.New("interval_minutes must be a positive integer"))
			return
		}
	}

	times, err := server.db.Frames().CaptureTimes(r.Context(), catalog.GapFilter{
		Satellite: satellite, Sector: sector, Band: band,
	})
	if err != nil {
		sendError(w, err)
		return
	}
	report, err := gaps.Detect(times, time.Duration(interval)*time.Minute, gaps.DefaultTolerance)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, report)
}

type imageProcessRequest struct {
	FrameID string    `json:"frame_id"`
	Crop    *cropBody `json:"crop"`
	Scale   float64   `json:"scale"`
}

func (server *Server) dispatchImageProcess(w http.ResponseWriter, r *http.Request) {
	var req imageProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	frameID, err := uuid.FromString(req.FrameID)
	if err != nil {
		sendValidationError(w, Error.New("bad frame id"))
		return
	}
	if req.Crop == nil && req.Scale == 0 {
		sendValidationError(w, Error.New("crop or scale required"))
		return
	}
	if req.Crop != nil && (req.Crop.Width <= 0 || req.Crop.Height <= 0) {
		sendValidationError(w, Error.New("crop needs positive width and height"))
		return
	}
	if req.Scale != 0 && (req.Scale < render.MinScale || req.Scale > render.MaxScale) {
		sendValidationError(w, Error.New("scale must be in [%v, %v]", render.MinScale, render.MaxScale))
		return
	}
	if _, err := server.db.Frames().Get(r.Context(), frameID); err != nil {
		sendError(w, err)
		return
	}

	params := map[string]any{"frame_id": frameID.String()}
	if req.Scale != 0 {
		params["scale"] = req.Scale
	}
	if req.Crop != nil {
		params["crop"] = map[string]any{
			"x": req.Crop.X, "y": req.Crop.Y,
			"width": req.Crop.Width, "height": req.Crop.Height,
		}
	}
	job, err := server.jobs.Dispatch(r.Context(), catalog.JobImageProcess, params)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, envelope(job))
}
