package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/batch-rewriter/internal/config"
	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/jobs"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
	"github.com/MimeLyc/batch-rewriter/internal/service"
	"github.com/MimeLyc/batch-rewriter/internal/telemetry"
)

// UserHeader carries the acting user; requests without it act as "system".
const UserHeader = "X-User-ID"

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type recoveryReporter interface {
	Status(now time.Time) service.RecoveryStatus
}

type Server struct {
	manager  *jobs.Manager
	query    *jobs.Query
	rewriter *rewrite.Service
	content  content.Store
	settings runtimeSettingsStore
	recovery recoveryReporter

	streamInterval time.Duration

	router chi.Router
	server *http.Server
}

type Option func(*Server)

func WithContentStore(store content.Store) Option {
	return func(s *Server) {
		s.content = store
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRecoveryReporter(r recoveryReporter) Option {
	return func(s *Server) {
		s.recovery = r
	}
}

// WithStreamInterval sets how often /api/jobs/stream pushes the job list.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(manager *jobs.Manager, query *jobs.Query, rewriter *rewrite.Service, opts ...Option) *Server {
	s := &Server{
		manager:        manager,
		query:          query,
		rewriter:       rewriter,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(withActor)
	// Set before mounting so sub-routers inherit them.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/status", s.handleJobsStatus)
			r.Get("/stream", s.handleJobStream)
			r.Get("/{id}", s.handleJobDetail)
			r.Post("/{id}/cancel", s.handleCancelJob)
			r.Delete("/{id}", s.handleDeleteJob)
		})
		r.Post("/rewrite", s.handleRewrite)
		r.Get("/history/{itemID}", s.handleHistory)
		r.Get("/items/{id}", s.handleGetItem)
		r.Put("/items/{id}", s.handlePutItem)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})
	s.router = r
}

func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
			r = r.WithContext(rewrite.WithActor(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.recovery != nil {
		body["recovery"] = s.recovery.Status(time.Now())
	}
	writeJSON(w, http.StatusOK, body)
}
