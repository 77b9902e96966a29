// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"time"

	"storj.io/common/uuid"

	"github.com/goeswatch/goeswatch/catalog"
	"github.com/goeswatch/goeswatch/goes"
	"github.com/goeswatch/goeswatch/render"
)

// MaxFetchWindow bounds a single fetch request.
const MaxFetchWindow = 24 * time.Hour

type jobEnvelope struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func envelope(job *catalog.Job) jobEnvelope {
	return jobEnvelope{JobID: job.ID.String(), Status: string(job.Status)}
}

type productsResponse struct {
	Satellites []satelliteInfo `json:"satellites"`
	Sectors    []sectorInfo    `json:"sectors"`
	Bands      []goes.BandInfo `json:"bands"`
}

type satelliteInfo struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"`
}

type sectorInfo struct {
	Name           string `json:"name"`
	Product        string `json:"product"`
	CadenceMinutes int    `json:"cadence_minutes"`
}

func (server *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	resp := productsResponse{Bands: goes.Bands}
	for _, s := range goes.Satellites {
		resp.Satellites = append(resp.Satellites, satelliteInfo{Name: string(s), Bucket: s.Bucket()})
	}
	for _, s := range goes.Sectors {
		resp.Sectors = append(resp.Sectors, sectorInfo{
			Name: string(s), Product: s.Product(), CadenceMinutes: s.CadenceMinutes(),
		})
	}
	sendJSON(w, http.StatusOK, resp)
}

type fetchRequest struct {
	Satellite string `json:"satellite"`
	Sector    string `json:"sector"`
	Band      string `json:"band"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// validate parses and window-checks the request.
func (req fetchRequest) validate() (goes.Satellite, goes.Sector, goes.Band, time.Time, time.Time, error) {
	satellite, err := goes.ParseSatellite(req.Satellite)
	if err != nil {
		return "", "", "", time.Time{}, time.Time{}, err
	}
	sector, err := goes.ParseSector(req.Sector)
	if err != nil {
		return "", "", "", time.Time{}, time.Time{}, err
	}
	band, err := goes.ParseBand(req.Band)
	if err != nil {
		return "", "", "", time.Time{}, time.Time{}, err
	}
	start, end, err := parseWindow(req.Start, req.End)
	if err != nil {
		return "", "", "", time.Time{}, time.Time{}, err
	}
	return satellite, sector, band, start, end, nil
}

func parseWindow(startRaw, endRaw string) (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, Error.New("bad start time: %v", err)
	}
	end, err = time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, Error.New("bad end time: %v", err)
	}
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return time.Time{}, time.Time{}, Error.New("end must be after start")
	}
	if end.Sub(start) > MaxFetchWindow {
		return time.Time{}, time.Time{}, Error.New("window exceeds 24h limit")
	}
	return start, end, nil
}

func (server *Server) dispatchFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	satellite, sector, band, start, end, err := req.validate()
	if err != nil {
		sendValidationError(w, err)
		return
	}

	job, err := server.jobs.Dispatch(r.Context(), catalog.JobGoesFetch, map[string]any{
		"satellite": string(satellite),
		"sector":    string(sector),
		"band":      string(band),
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
	})
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, envelope(job))
}

type backfillRequest struct {
	Satellite       string `json:"satellite"`
	Sector          string `json:"sector"`
	Band            string `json:"band"`
	IntervalMinutes int    `json:"interval_minutes"`
}

func (server *Server) dispatchBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	satellite, err := goes.ParseSatellite(req.Satellite)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	sector, err := goes.ParseSector(req.Sector)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	band, err := goes.ParseBand(req.Band)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	if req.IntervalMinutes < 0 {
		sendValidationError(w, Error.New("interval_minutes must not be negative"))
		return
	}

	job, err := server.jobs.Dispatch(r.Context(), catalog.JobGoesBackfill, map[string]any{
		"satellite":        string(satellite),
		"sector":           string(sector),
		"band":             string(band),
		"interval_minutes": req.IntervalMinutes,
	})
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, envelope(job))
}

type compositeFetchRequest struct {
	Recipe    string `json:"recipe"`
	Satellite string `json:"satellite"`
	Sector    string `json:"sector"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

func (server *Server) dispatchFetchComposite(w http.ResponseWriter, r *http.Request) {
	var req compositeFetchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipe, err := render.RecipeFor(req.Recipe)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	satellite, err := goes.ParseSatellite(req.Satellite)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	sector, err := goes.ParseSector(req.Sector)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	start, end, err := parseWindow(req.Start, req.End)
	if err != nil {
		sendValidationError(w, err)
		return
	}

	job, err := server.jobs.Dispatch(r.Context(), catalog.JobCompositeFetch, map[string]any{
		"recipe":    recipe.Name,
		"satellite": string(satellite),
		"sector":    string(sector),
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
	})
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, envelope(job))
}

type compositeRequest struct {
	Recipe      string `json:"recipe"`
	Satellite   string `json:"satellite"`
	Sector      string `json:"sector"`
	CaptureTime string `json:"capture_time"`
}

func (server *Server) dispatchComposite(w http.ResponseWriter, r *http.Request) {
	var req compositeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipe, err := render.RecipeFor(req.Recipe)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	satellite, err := goes.ParseSatellite(req.Satellite)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	sector, err := goes.ParseSector(req.Sector)
	if err != nil {
		sendValidationError(w, err)
		return
	}
	captureTime, err := time.Parse(time.RFC3339, req.CaptureTime)
	if err != nil {
		sendValidationError(w, Error.New("bad capture_time: %v", err))
		return
	}

	// The artifact id is minted first so it can travel in the job
	// params; the artifact row lands before the enqueue so the worker
	// always finds it.
	compositeID, err := uuid.New()
	if err != nil {
		sendError(w, err)
		return
	}
	job := &catalog.Job{Type: catalog.JobCompositeGenerate, Params: map[string]any{
		"composite_id": compositeID.String(),
		"recipe":       recipe.Name,
		"satellite":    string(satellite),
		"sector":       string(sector),
		"capture_time": captureTime.UTC().Format(time.RFC3339),
	}}
	if err := server.db.Jobs().Create(r.Context(), job); err != nil {
		sendError(w, err)
		return
	}
	composite := &catalog.Composite{
		ID:          compositeID,
		JobID:       job.ID,
		Status:      catalog.JobPending,
		Recipe:      recipe.Name,
		Satellite:   satellite,
		Sector:      sector,
		CaptureTime: captureTime.UTC(),
	}
	if err := server.db.Artifacts().CreateComposite(r.Context(), composite); err != nil {
		sendError(w, err)
		return
	}
	if err := server.jobs.Enqueue(r.Context(), job); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, envelope(job))
}

func (server *Server) listComposites(w http.ResponseWriter, r *http.Request) {
	composites, err := server.db.Artifacts().ListComposites(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"composites": composites})
}
