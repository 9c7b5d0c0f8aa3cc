// Package api serves the dashboard's JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"family_dash/internal/model"
	"family_dash/internal/scheduler"
	"family_dash/internal/settings"
	"family_dash/internal/storage"
)

const maxBodySize = 1 << 20

// Refresher runs feed refreshes and owns feed removal.
type Refresher interface {
	RefreshAll(ctx context.Context) scheduler.Aggregate
	RefreshOne(ctx context.Context, id int64) scheduler.FeedResult
	RemoveFeed(ctx context.Context, id int64) error
	State() scheduler.State
}

// Server provides the HTTP API.
type Server struct {
	store    storage.Storage
	settings *settings.Store
	sched    Refresher
	log      *slog.Logger
	mux      *http.ServeMux
	now      func() time.Time
}

// NewServer creates a Server and registers all routes. gatherer backs
// /metrics; nil leaves the endpoint out.
func NewServer(store storage.Storage, st *settings.Store, sched Refresher, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	s := &Server{
		store:    store,
		settings: st,
		sched:    sched,
		log:      log,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.routes(gatherer)
	return s
}

// Handler returns the http.Handler that can be passed to http.Server.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Events
	s.mux.HandleFunc("GET /api/events", s.handleGetEvents)
	s.mux.HandleFunc("GET /api/events/export.ics", s.handleExportEvents)
	s.mux.HandleFunc("POST /api/events/refresh", s.handleRefresh)

	// Calendar feeds
	s.mux.HandleFunc("GET /api/calendar-feeds", s.handleListFeeds)
	s.mux.HandleFunc("POST /api/calendar-feeds", s.handleCreateFeed)
	s.mux.HandleFunc("GET /api/calendar-feeds/{id}", s.handleGetFeed)
	s.mux.HandleFunc("PATCH /api/calendar-feeds/{id}", s.handleUpdateFeed)
	s.mux.HandleFunc("DELETE /api/calendar-feeds/{id}", s.handleDeleteFeed)

	// Notes
	s.mux.HandleFunc("GET /api/notes", s.handleListNotes)
	s.mux.HandleFunc("POST /api/notes", s.handleCreateNote)
	s.mux.HandleFunc("DELETE /api/notes/{id}", s.handleDeleteNote)

	// Settings
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PATCH /api/settings", s.handlePatchSettings)
	s.mux.HandleFunc("POST /api/settings/reset", s.handleResetSettings)
	s.mux.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	s.mux.HandleFunc("PATCH /api/settings/{key}", s.handlePatchSetting)

	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// --- JSON helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.log.Error("encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps an error kind onto its HTTP status. Unexpected
// errors are logged and hidden behind a generic message.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is empty", model.ErrValidation)
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", model.ErrValidation, err)
	}
	return nil
}

// pathID extracts the {id} path value and converts it to int64.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", model.ErrValidation, r.PathValue("id"))
	}
	return id, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid time %q, use RFC 3339 or YYYY-MM-DD", model.ErrValidation, raw)
}

// timeRange reads start and end query parameters, defaulting to the next
// seven days.
func (s *Server) timeRange(r *http.Request) (time.Time, time.Time, error) {
	now := s.now()
	start, end := now, now.Add(7*24*time.Hour)
	q := r.URL.Query()
	if raw := q.Get("start"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return start, end, err
		}
		start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return start, end, err
		}
		end = t
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("%w: end is before start", model.ErrValidation)
	}
	return start, end, nil
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

// --- health ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"refresh": s.sched.State().String(),
	})
}
