// Package server is the HTTP face of the proxy: the Anthropic-compatible
// POST /v1/messages endpoint and the account admin API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saffronlabs/saffron/pkg/account"
	"github.com/saffronlabs/saffron/pkg/config"
	"github.com/saffronlabs/saffron/pkg/observability"
	"github.com/saffronlabs/saffron/pkg/pipeline"
	"github.com/saffronlabs/saffron/pkg/session"
	"github.com/saffronlabs/saffron/pkg/toolcall"
)

// Server wires the router to the pipeline, pool and session manager.
type Server struct {
	cfg      *config.Config
	pool     *account.Pool
	sessions *session.Manager
	registry *toolcall.Registry
	builder  *pipeline.Builder
	metrics  *observability.Metrics

	http *http.Server
}

// New builds the server and its router.
func New(cfg *config.Config, pool *account.Pool, sessions *session.Manager, registry *toolcall.Registry, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		pool:     pool,
		sessions: sessions,
		registry: registry,
		metrics:  metrics,
		builder: pipeline.NewBuilder(pipeline.BuilderOptions{
			PadtxtLength: cfg.Request.PadtxtLength,
			PadTokens:    cfg.Request.PadTokens,
			CustomPrompt: cfg.Request.CustomPrompt,
		}),
	}
	s.http = &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: s.Router(),
		// No write timeout: responses are long-lived SSE streams.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi router. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil && s.metrics.Handler() != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/v1/messages", s.handleMessages)

		r.Route("/admin/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleAddAccount)
			r.Post("/batch_delete", s.handleBatchDelete)
			r.Post("/batch_refresh", s.handleBatchRefresh)
			r.Delete("/{uuid}", s.handleDeleteAccount)
			r.Post("/{uuid}/refresh", s.handleRefreshAccount)
		})
	})

	return r
}

// ListenAndServe runs until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// requireAPIKey enforces the configured inbound key. With no key
// configured the proxy is open.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.Server.APIKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get("x-api-key")
		if provided == "" {
			provided = bearerToken(r.Header.Get("Authorization"))
		}
		if provided != key {
			writeError(w, http.StatusUnauthorized, "authentication_error", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(authorization string) string {
	const prefix = "Bearer "
	if len(authorization) > len(prefix) && authorization[:len(prefix)] == prefix {
		return authorization[len(prefix):]
	}
	return ""
}
