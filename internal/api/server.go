// Package api provides the REST API over the health queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fidde/cicd_health/internal/query"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// maxLogLimit caps the limit accepted by the log search.
const maxLogLimit = 1000

// RequestObserver records finished HTTP requests.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Options configures a Server. Zero values select defaults.
type Options struct {
	RequestTimeout time.Duration

	// Metrics, when set, is served on MetricsPath.
	Metrics     http.Handler
	MetricsPath string
	Observer    RequestObserver

	Logger *slog.Logger
}

// Server is the REST API server.
type Server struct {
	service  *query.Service
	observer RequestObserver
	logger   *slog.Logger
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(addr string, service *query.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	s := &Server{
		service:  service,
		observer: opts.Observer,
		logger:   opts.Logger,
		router:   chi.NewRouter(),
	}

	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.instrument)
	s.router.Use(middleware.Timeout(opts.RequestTimeout))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.HandleHealth)

		r.Get("/rollup", s.getRollup)

		// Fixed routes must come before {project}.
		r.Get("/projects", s.listProjects)
		r.Get("/projects/summary", s.listProjectSummaries)
		r.Get("/projects/{project}", s.getProjectDetails)

		r.Get("/metrics/{tool}/{project}", s.getMetrics)
		r.Get("/analyses/{tool}/{project}", s.listAnalyses)
		r.Get("/environments/{tool}/{project}", s.listEnvironments)
		r.Get("/servers/{tool}/{project}/{environment}", s.listServers)
		r.Get("/logs", s.searchLogs)

		r.Get("/pipeline-stages/{tool}/{project}", s.getPipelineStages)
		r.Get("/pipeline-stages/{tool}/{project}/{environment}", s.getPipelineStages)
		r.Get("/pipeline-stages/{tool}/{project}/{environment}/{server}", s.getPipelineStages)
	})

	if opts.Metrics != nil {
		s.router.Handle(opts.MetricsPath, opts.Metrics)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// instrument reports every request to the observer, labelled by route
// pattern so path parameters don't explode the label space.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.observer == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.observer.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}

// getRollup returns the hierarchy below the scope given by the tool,
// project and environment query parameters.
func (s *Server) getRollup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := models.RollupScope{
		Tool:        q.Get("tool"),
		Project:     q.Get("project"),
		Environment: q.Get("environment"),
	}
	respondResult(w, s.service.Rollup(r.Context(), scope))
}

// listProjects returns project names with event counts, optionally for one
// tool.
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	scope := models.RollupScope{Tool: r.URL.Query().Get("tool")}
	respondResult(w, s.service.DimensionValues(r.Context(), models.LevelProject, scope))
}

func (s *Server) listProjectSummaries(w http.ResponseWriter, r *http.Request) {
	respondResult(w, s.service.ProjectSummaries(r.Context()))
}

func (s *Server) getProjectDetails(w http.ResponseWriter, r *http.Request) {
	respondResult(w, s.service.ProjectDetails(r.Context(), chi.URLParam(r, "project")))
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	respondResult(w, s.service.Metrics(r.Context(), chi.URLParam(r, "tool"), chi.URLParam(r, "project")))
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	respondResult(w, s.service.Analyses(r.Context(), chi.URLParam(r, "tool"), chi.URLParam(r, "project")))
}

func (s *Server) listEnvironments(w http.ResponseWriter, r *http.Request) {
	scope := models.RollupScope{
		Tool:    chi.URLParam(r, "tool"),
		Project: chi.URLParam(r, "project"),
	}
	respondResult(w, s.service.DimensionValues(r.Context(), models.LevelEnvironment, scope))
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	respondResult(w, s.service.Servers(r.Context(),
		chi.URLParam(r, "tool"), chi.URLParam(r, "project"), chi.URLParam(r, "environment")))
}

// searchLogs filters events by the tool, project, environment, server,
// log_type, severity_level and status query parameters.
// Query parameters:
//   - limit: max entries to return (default from config, max: 1000)
func (s *Server) searchLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := models.LogQuery{
		Tool:          q.Get("tool"),
		Project:       q.Get("project"),
		Environment:   q.Get("environment"),
		Server:        q.Get("server"),
		LogType:       q.Get("log_type"),
		SeverityLevel: q.Get("severity_level"),
		Status:        q.Get("status"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		lq.Limit = min(parsed, maxLogLimit)
	}
	respondResult(w, s.service.Logs(r.Context(), lq))
}

func (s *Server) getPipelineStages(w http.ResponseWriter, r *http.Request) {
	scope := models.StageScope{
		Tool:        chi.URLParam(r, "tool"),
		Project:     chi.URLParam(r, "project"),
		Environment: chi.URLParam(r, "environment"),
		Server:      chi.URLParam(r, "server"),
	}
	respondResult(w, s.service.StageView(r.Context(), scope))
}

// statusFor maps a query result to its HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case query.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondResult writes a result envelope with the status its error maps to.
func respondResult[T any](w http.ResponseWriter, res models.Result[T]) {
	status := http.StatusOK
	if !res.OK() {
		status = statusFor(res.Err)
	}
	respondJSON(w, status, res)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.Result[any]{
		Status:  models.ResultError,
		Message: message,
	})
}
