// Package api exposes job control over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/engine"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/store"
)

const defaultListLimit = 20

// Controller is the job-control surface. *engine.Engine implements it.
type Controller interface {
	Start(ctx context.Context, sc model.Scope, src model.SourceKind, mode model.JobMode) (engine.StartResult, error)
	Stop() (string, error)
	Running() string
	Status(ctx context.Context, jobID string) (*model.JobStatusReport, error)
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)
	RetrySubScope(ctx context.Context, jobID, code string) error
}

// Server holds the HTTP handlers.
type Server struct {
	jobs        Controller
	corsOrigins []string
	log         *zap.Logger
}

// New creates a Server. An empty origin list allows any origin.
func New(jobs Controller, corsOrigins []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		jobs:        jobs,
		corsOrigins: corsOrigins,
		log:         zap.L().With(zap.String("component", "api")),
	}
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.startJob)
		r.Get("/", s.listJobs)
		r.Post("/stop", s.stopJob)
		r.Get("/status", s.latestStatus)
		r.Get("/{id}", s.jobStatus)
		r.Post("/{id}/subscopes/{code}/retry", s.retrySubScope)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"running_job": s.jobs.Running(),
	})
}

type startRequest struct {
	Scope  string `json:"scope"`
	Source string `json:"source"`
	Mode   string `json:"mode"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sc, err := model.ParseScope(req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src, ok := model.ParseSourceKind(req.Source)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown source "+strconv.Quote(req.Source))
		return
	}
	mode, ok := model.ParseJobMode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown mode "+strconv.Quote(req.Mode))
		return
	}

	res, err := s.jobs.Start(r.Context(), sc, src, mode)
	switch {
	case errors.Is(err, engine.ErrJobRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, engine.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.internalError(w, "start job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) stopJob(w http.ResponseWriter, _ *http.Request) {
	id, err := s.jobs.Stop()
	if errors.Is(err, engine.ErrNoJob) {
		writeError(w, http.StatusConflict, "no job is running")
		return
	}
	if err != nil {
		s.internalError(w, "stop job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"stopping": true, "job_id": id})
}

func (s *Server) latestStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, "")
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, chi.URLParam(r, "id"))
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, id string) {
	rep, err := s.jobs.Status(r.Context(), id)
	if errors.Is(err, engine.ErrNoJob) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, "job status", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) retrySubScope(w http.ResponseWriter, r *http.Request) {
	id, code := chi.URLParam(r, "id"), chi.URLParam(r, "code")
	err := s.jobs.RetrySubScope(r.Context(), id, code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "sub-scope not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "only errored sub-scopes can be retried")
		return
	case err != nil:
		s.internalError(w, "retry sub-scope", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":    id,
		"sub_scope": code,
		"status":    string(model.SubScopePending),
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
