// Package http serves the query API alongside health, readiness, and metrics
// endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/pipeline"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/render"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodyBytes        = 1 << 20
	defaultSuggestLimit = 10
	maxSuggestLimit     = 50
)

// API holds the components behind the /api routes. Names may be nil when no taxon
// index is configured; the name routes then answer 503.
type API struct {
	Resolver pipeline.Resolver
	Sessions *pipeline.Sessions
	Polygons *domain.PolygonTable
	Names    *domain.NameIndex

	// QueryTimeout bounds a single resolve request. The server write timeout is
	// derived from it.
	QueryTimeout time.Duration
}

// Server exposes the query API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	api        API
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and /api routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, api API, logger *slog.Logger) *Server {
	writeTimeout := 10 * time.Second
	if api.QueryTimeout > 0 {
		writeTimeout += api.QueryTimeout
	}

	s := &Server{api: api, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/genera", s.handleGenera)
		r.Get("/genera/{genus}/species", s.handleSpecies)
		r.Get("/species/suggest", s.handleSuggest)
		r.Post("/resolve", s.handleResolve)
		r.Get("/sessions/{session}/result", s.handleSessionResult)
		r.Get("/sessions/{session}/map", s.handleSessionMap)
		r.Delete("/sessions/{session}", s.handleForgetSession)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleGenera(w http.ResponseWriter, _ *http.Request) {
	if s.api.Names == nil {
		writeError(w, http.StatusServiceUnavailable, "taxon index not loaded")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"genera": s.api.Names.Genera()})
}

func (s *Server) handleSpecies(w http.ResponseWriter, r *http.Request) {
	if s.api.Names == nil {
		writeError(w, http.StatusServiceUnavailable, "taxon index not loaded")
		return
	}
	genus := chi.URLParam(r, "genus")
	species := s.api.Names.Species(genus)
	if species == nil {
		writeError(w, http.StatusNotFound, "unknown genus "+strconv.Quote(genus))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"genus": genus, "species": species})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if s.api.Names == nil {
		writeError(w, http.StatusServiceUnavailable, "taxon index not loaded")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := defaultSuggestLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSuggestLimit)
	}
	suggestions := s.api.Names.Suggest(q, limit)
	if suggestions == nil {
		suggestions = []string{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"query": q, "suggestions": suggestions})
}

type resolveRequest struct {
	Name      string `json:"name"`
	Rank      string `json:"rank"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	rank, err := domain.ParseRank(req.Rank)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := pipeline.Query{Name: name, Rank: rank}
	run := func(ctx context.Context) (pipeline.Result, error) {
		if s.api.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.api.QueryTimeout)
			defer cancel()
		}
		return s.api.Resolver.Resolve(ctx, q)
	}

	var res pipeline.Result
	if req.SessionID != "" && s.api.Sessions != nil {
		res, err = s.api.Sessions.Run(r.Context(), req.SessionID, run)
	} else {
		res, err = run(r.Context())
	}

	switch {
	case errors.Is(err, pipeline.ErrSuperseded):
		writeError(w, http.StatusConflict, "query superseded by a newer request in the same session")
		return
	case err != nil:
		if r.Context().Err() != nil {
			s.logger.Debug("client went away", "name", name, "error", err)
			return
		}
		s.logger.Error("resolve failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if res.Status == pipeline.StatusFetchFailed {
		status = http.StatusBadGateway
	}
	sharedobs.WriteJSON(w, status, res)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) (pipeline.Result, bool) {
	session := chi.URLParam(r, "session")
	if s.api.Sessions == nil {
		writeError(w, http.StatusNotFound, "sessions disabled")
		return pipeline.Result{}, false
	}
	res, ok := s.api.Sessions.Latest(session)
	if !ok {
		writeError(w, http.StatusNotFound, "no result for session "+strconv.Quote(session))
		return pipeline.Result{}, false
	}
	return res, true
}

func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.latest(w, r)
	if !ok {
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleForgetSession(w http.ResponseWriter, r *http.Request) {
	if s.api.Sessions != nil {
		s.api.Sessions.Forget(chi.URLParam(r, "session"))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionMap(w http.ResponseWriter, r *http.Request) {
	res, ok := s.latest(w, r)
	if !ok {
		return
	}

	opts := render.Options{
		Title:               res.Query.Name,
		IncludeEmptyRegions: r.URL.Query().Get("all_regions") == "true",
	}
	if raw := r.URL.Query().Get("precision"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 || p > 12 {
			writeError(w, http.StatusBadRequest, "precision must be between 1 and 12")
			return
		}
		opts.GeohashPrecision = p
	}

	art, err := render.Render(res.Resolved, res.Points, s.api.Polygons, opts)
	if err != nil {
		s.logger.Error("render map", "session", chi.URLParam(r, "session"), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(art.HTML) //nolint:errcheck // client may have gone away
	case "geojson":
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(art.GeoJSON) //nolint:errcheck // client may have gone away
	default:
		writeError(w, http.StatusBadRequest, "format must be html or geojson")
	}
}

// accessLog logs each request at debug level.
func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
