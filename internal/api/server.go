package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ajitpratap0/discovery-swarm/internal/geo"
	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
	"github.com/ajitpratap0/discovery-swarm/internal/swarm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Businesses is the read and verification surface of the merge store.
type Businesses interface {
	Get(ctx context.Context, id string) (*models.DiscoveredBusiness, error)
	List(ctx context.Context, filter merge.Filter) ([]*models.DiscoveredBusiness, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	SetVerificationStatus(ctx context.Context, id string, status models.VerificationStatus) (*models.DiscoveredBusiness, error)
	Ping(ctx context.Context) error
}

// Runs starts and inspects discovery runs.
type Runs interface {
	Start(ctx context.Context, rc swarm.RunConfig) (*swarm.Run, error)
	Current() *swarm.Run
	Stop() bool
}

// Server is an HTTP API server over the discovered businesses and the run controller.
type Server struct {
	businesses Businesses
	runs       Runs
	defaultRun swarm.RunConfig
	logger     *slog.Logger
	authToken  string // empty = no auth required
}

// NewServer creates a new Server. runs may be nil, in which case the run
// endpoints answer 503. defaultRun is used for POST /v1/runs without a body.
func NewServer(businesses Businesses, runs Runs, defaultRun swarm.RunConfig, logger *slog.Logger, authToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		businesses: businesses,
		runs:       runs,
		defaultRun: defaultRun,
		logger:     logger,
		authToken:  authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Health check, no auth required.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/debug/vars", expvar.Handler().ServeHTTP)
		r.Route("/v1", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/businesses", s.handleListBusinesses)
			r.Get("/businesses/{id}", s.handleGetBusiness)
			r.Put("/businesses/{id}/verification", s.handleSetVerification)
			r.Post("/runs", s.handleStartRun)
			r.Get("/runs/current", s.handleCurrentRun)
			r.Post("/runs/current/stop", s.handleStopRun)
		})
	})
	return r
}

// --- middleware ---

// auth enforces Bearer token authentication when authToken is set.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.businesses.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.businesses.Statistics(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// listResponse is returned by GET /v1/businesses.
type listResponse struct {
	Businesses []*models.DiscoveredBusiness `json:"businesses"`
	Count      int                          `json:"count"`
	Offset     int                          `json:"offset"`
}

func (s *Server) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.businesses.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list businesses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list businesses")
		return
	}
	if list == nil {
		list = []*models.DiscoveredBusiness{}
	}
	s.writeJSON(w, http.StatusOK, listResponse{Businesses: list, Count: len(list), Offset: filter.Offset})
}

func parseFilter(r *http.Request) (merge.Filter, error) {
	q := r.URL.Query()
	f := merge.Filter{
		EntityType: models.EntityType(q.Get("type")),
		Province:   strings.ToUpper(strings.TrimSpace(q.Get("province"))),
		Source:     models.SourceType(q.Get("source")),
		Limit:      defaultPageSize,
	}
	if f.EntityType != "" && !f.EntityType.IsValid() {
		return f, errors.New("invalid entity type")
	}
	if f.Province != "" && !geo.IsCode(f.Province) {
		return f, errors.New("invalid province")
	}
	if f.Source != "" && !f.Source.IsValid() {
		return f, errors.New("invalid source type")
	}
	ints := []struct {
		name string
		dst  *int
		max  int
	}{
		{"min_confidence", &f.MinConfidence, 100},
		{"offset", &f.Offset, -1},
		{"limit", &f.Limit, maxPageSize},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || (p.max >= 0 && n > p.max) {
			return f, errors.New("invalid " + p.name)
		}
		*p.dst = n
	}
	if f.Limit == 0 {
		f.Limit = defaultPageSize
	}
	return f, nil
}

func (s *Server) handleGetBusiness(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.businesses.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "business not found")
			return
		}
		s.logger.Error("failed to get business", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get business")
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// verificationRequest is the body accepted by PUT /v1/businesses/{id}/verification.
type verificationRequest struct {
	Status models.VerificationStatus `json:"status"`
}

func (s *Server) handleSetVerification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid verification status")
		return
	}
	id := chi.URLParam(r, "id")
	b, err := s.businesses.SetVerificationStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "business not found")
	case errors.Is(err, merge.ErrMergeConflict):
		s.writeError(w, http.StatusConflict, "concurrent update, retry")
	case err != nil:
		s.logger.Error("failed to set verification status", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to set verification status")
	default:
		s.writeJSON(w, http.StatusOK, b)
	}
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "runs are not enabled")
		return
	}
	rc := s.defaultRun
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &rc); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	// The run outlives the request.
	run, err := s.runs.Start(context.WithoutCancel(r.Context()), rc)
	switch {
	case errors.Is(err, swarm.ErrRunInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Info("run started via api", "run_id", run.ID())
		s.writeJSON(w, http.StatusAccepted, run.Report())
	}
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "runs are not enabled")
		return
	}
	run := s.runs.Current()
	if run == nil {
		s.writeError(w, http.StatusNotFound, "no run yet")
		return
	}
	s.writeJSON(w, http.StatusOK, run.Report())
}

func (s *Server) handleStopRun(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "runs are not enabled")
		return
	}
	if !s.runs.Stop() {
		s.writeError(w, http.StatusConflict, "no active run")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"stopping": true})
}

// --- helpers ---

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
