package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/jobs"
	"github.com/geosight/geosight/internal/layers"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/poi"
	"github.com/geosight/geosight/internal/scoring"
	"github.com/geosight/geosight/internal/store"
)

const maxBodyBytes = 1 << 20

type handler struct {
	jobs    JobService
	store   store.Store
	catalog poi.Catalog
}

type categoryRequest struct {
	Name        string  `json:"name"`
	MaxScore    float64 `json:"max_score"`
	MaxDistance float64 `json:"max_distance"`
	IsActive    *bool   `json:"is_active"`
}

type createLayerRequest struct {
	Name          string            `json:"name"`
	PolygonRadius float64           `json:"polygon_radius"`
	Categories    []categoryRequest `json:"categories"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createScoringLayer(w http.ResponseWriter, r *http.Request) {
	var req createLayerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, eris.Wrapf(scoring.ErrInvalidInput, "invalid request body: %v", err))
		return
	}

	cats := make([]scoring.Category, len(req.Categories))
	for i, c := range req.Categories {
		cats[i] = scoring.Category{
			Name:        c.Name,
			MaxScore:    c.MaxScore,
			MaxDistance: c.MaxDistance,
			IsActive:    c.IsActive == nil || *c.IsActive,
		}
	}
	name := req.Name
	if name == "" {
		name = "Scoring " + time.Now().UTC().Format("2006-01-02 15:04")
	}

	job, err := h.jobs.Submit(r.Context(), jobs.Request{
		Name:   name,
		Params: scoring.Params{Categories: cats, PolygonRadius: req.PolygonRadius},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{Status: model.JobStatus(q.Get("status"))}

	var err error
	if filter.LayerID, err = int64Param(q.Get("layer_id")); err != nil {
		writeError(w, err)
		return
	}
	limit, err := int64Param(q.Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := int64Param(q.Get("offset"))
	if err != nil {
		writeError(w, err)
		return
	}
	filter.Limit, filter.Offset = int(limit), int(offset)

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.ScoringJob{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) killJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.jobs.Kill(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) listPOI(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.Categories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if cats == nil {
		cats = []scoring.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *handler) layerFeatures(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := int64Param(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.store.GetLayer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	features, err := h.store.ListFeatures(r.Context(), id, int(limit))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(layers.FeatureCollection(features)) //nolint:errcheck
}

func int64Param(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, eris.Wrapf(scoring.ErrInvalidInput, "invalid integer parameter %q", s)
	}
	return v, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case eris.Is(err, scoring.ErrInvalidInput):
		return http.StatusBadRequest
	case eris.Is(err, jobs.ErrCapacity):
		return http.StatusTooManyRequests
	case eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, store.ErrNotRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("component", "api"), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
