package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/cache"
	"github.com/pricelens/pricelens/internal/chart"
	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components, healthy := s.health.Run(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":    healthy,
		"components": components,
	})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	f := store.ProductFilter{
		Site:   r.URL.Query().Get("site"),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	products, err := s.store.ListProducts(r.Context(), f)
	if err != nil {
		s.serverError(w, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := s.store.GetProduct(r.Context(), id)
	if err != nil {
		s.notFoundOr(w, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetProduct(r.Context(), id); err != nil {
		s.notFoundOr(w, "get product", err)
		return
	}

	since, err := sinceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	obs, err := s.store.ListObservations(r.Context(), id, since, queryInt(r, "limit", 500))
	if err != nil {
		s.serverError(w, "list observations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "observations": obs})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rangeName := r.URL.Query().Get("range")
	if rangeName == "" {
		rangeName = "30d"
	}
	cutoff, err := chart.RangeCutoff(rangeName, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := cache.ChartKey(id, rangeName)
	var series chart.Series
	if s.cache.Get(r.Context(), key, &series) {
		writeJSON(w, http.StatusOK, series)
		return
	}

	if _, err := s.store.GetProduct(r.Context(), id); err != nil {
		s.notFoundOr(w, "get product", err)
		return
	}
	obs, err := s.store.ListObservations(r.Context(), id, cutoff, 0)
	if err != nil {
		s.serverError(w, "list observations", err)
		return
	}
	series = chart.Shape(id, rangeName, obs, chart.DefaultPointBudget)
	s.cache.Set(r.Context(), key, series)
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	f := store.TargetFilter{
		Site:   r.URL.Query().Get("site"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "enabled must be a boolean")
			return
		}
		f.Enabled = &enabled
	}
	targets, err := s.store.ListTargets(r.Context(), f)
	if err != nil {
		s.serverError(w, "list targets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

// createTargetRequest is the POST /targets body.
type createTargetRequest struct {
	URL                  string `json:"url"`
	Site                 string `json:"site"`
	CheckIntervalMinutes int    `json:"check_interval_minutes"`
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CheckIntervalMinutes == 0 {
		req.CheckIntervalMinutes = 60
	}
	target := &model.TrackedTarget{
		URL:                  req.URL,
		Site:                 req.Site,
		TrackingMode:         model.TrackingModeURL,
		Enabled:              true,
		CheckIntervalMinutes: req.CheckIntervalMinutes,
	}
	created, err := s.store.CreateTarget(r.Context(), target)
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		s.serverError(w, "create target", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var u store.TargetUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := s.store.UpdateTarget(r.Context(), id, u)
	if err != nil {
		var vErr *model.ValidationError
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "target not found")
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Error())
		default:
			s.serverError(w, "update target", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTarget(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		s.serverError(w, "delete target", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		s.serverError(w, "collect status", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) notFoundOr(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	s.serverError(w, op, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func sinceParam(r *http.Request) (time.Time, error) {
	rangeName := r.URL.Query().Get("range")
	if rangeName == "" {
		return time.Time{}, nil
	}
	return chart.RangeCutoff(rangeName, time.Now().UTC())
}
