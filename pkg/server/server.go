// Package server exposes run execution and run history over HTTP.
package server

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/qapilot/pkg/apirun"
	apperrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/logging"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/runstore"
	"github.com/odvcencio/qapilot/pkg/testcase"
)

const maxSuiteBytes int64 = 4 << 20

// WebRunner executes UI test cases.
type WebRunner interface {
	Run(ctx context.Context, cases []testcase.TestCase) (*report.RunSummary, error)
}

// APIRunner executes API test cases.
type APIRunner interface {
	Run(ctx context.Context, tests []apirun.TestCase) (*report.RunSummary, error)
}

// Config controls the HTTP server.
type Config struct {
	BindAddress string
	// RunsDir is served read-only under /runs/.
	RunsDir string
}

// Server serves the qapilot HTTP API.
type Server struct {
	cfg    Config
	web    WebRunner
	api    APIRunner
	store  *runstore.Store
	logger *logging.Logger
	now    func() time.Time

	// runMu admits one run at a time.
	runMu sync.Mutex

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWebRunner enables POST /api/runs/web.
func WithWebRunner(r WebRunner) Option {
	return func(s *Server) { s.web = r }
}

// WithAPIRunner enables POST /api/runs/api.
func WithAPIRunner(r APIRunner) Option {
	return func(s *Server) { s.api = r }
}

// WithStore records finished runs and enables the history endpoints.
func WithStore(store *runstore.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.securityHeadersMiddleware)
	router.Use(s.requestLogMiddleware)

	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/summary", s.handleSummary)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Post("/web", s.handleRunWeb)
			r.Post("/api", s.handleRunAPI)
		})
	})
	if strings.TrimSpace(s.cfg.RunsDir) != "" {
		files := http.StripPrefix("/runs/", http.FileServer(http.Dir(s.cfg.RunsDir)))
		router.Handle("/runs/*", files)
	}
	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.BindAddress) == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "server bind address is required")
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		_ = s.logger.Info(logging.CategoryServer, "server.started", "serving on "+s.cfg.BindAddress, nil)
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("run history is disabled"))
		return
	}
	agg, err := s.store.Summary(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("run history is disabled"))
		return
	}
	limit := runstore.RecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	records, err := s.store.List(r.Context(), kind, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("run history is disabled"))
		return
	}
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	summary, err := s.store.Get(r.Context(), runID)
	if stdliberrors.Is(err, runstore.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunWeb(w http.ResponseWriter, r *http.Request) {
	if s.web == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("web runner is not configured"))
		return
	}
	data, status, err := readBody(w, r)
	if err != nil {
		respondError(w, status, err)
		return
	}
	cases, err := testcase.Decode(data, "json")
	if err != nil {
		respondError(w, http.StatusBadRequest, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid test suite"))
		return
	}
	if len(cases) == 0 {
		respondError(w, http.StatusBadRequest, apperrors.New(apperrors.ErrCodeInvalidInput, "no tests provided"))
		return
	}
	s.execute(w, r, report.KindWeb, func(ctx context.Context) (*report.RunSummary, error) {
		return s.web.Run(ctx, cases)
	})
}

func (s *Server) handleRunAPI(w http.ResponseWriter, r *http.Request) {
	if s.api == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("api runner is not configured"))
		return
	}
	data, status, err := readBody(w, r)
	if err != nil {
		respondError(w, status, err)
		return
	}
	tests, err := apirun.Decode(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid api test suite"))
		return
	}
	if len(tests) == 0 {
		respondError(w, http.StatusBadRequest, apperrors.New(apperrors.ErrCodeInvalidInput, "no apiTests provided"))
		return
	}
	s.execute(w, r, report.KindAPI, func(ctx context.Context) (*report.RunSummary, error) {
		return s.api.Run(ctx, tests)
	})
}

// execute runs fn while holding the run lock and records the summary.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, kind string, fn func(context.Context) (*report.RunSummary, error)) {
	if !s.runMu.TryLock() {
		respondError(w, http.StatusConflict, stdliberrors.New("a run is already in progress"))
		return
	}
	defer s.runMu.Unlock()

	summary, err := fn(r.Context())
	if err != nil {
		_ = s.logger.Error(logging.CategoryServer, "run.failed", err.Error(), map[string]any{"kind": kind})
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if s.store != nil {
		if _, err := s.store.Save(r.Context(), summary); err != nil {
			_ = s.logger.Warn(logging.CategoryStore, "run.save_failed", err.Error(), map[string]any{"run_id": summary.RunID})
		}
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		_ = s.logger.Debug(logging.CategoryServer, "http.request", r.Method+" "+r.URL.Path, map[string]any{
			"status":      rec.status,
			"duration_ms": s.now().Sub(start).Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
