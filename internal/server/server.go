package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/driftwatch/driftwatch/internal/approval"
	"github.com/driftwatch/driftwatch/internal/audit"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/docresolve"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/signal"
)

// Deps are the feature services the HTTP layer exposes.
type Deps struct {
	Drifts    *drift.Store
	Signals   *signal.Store
	Intake    signal.Intake
	Approvals *approval.Service
	Mappings  *docresolve.Store
	Audit     *audit.Store
	AuditFeed *audit.Feed
}

// Server is the driftwatch HTTP API: webhook intake, the drift and
// mapping read surfaces, human review actions, and the audit trail.
type Server struct {
	cfg        *config.Config
	db         *db.DB
	deps       Deps
	router     chi.Router
	httpServer *http.Server
}

// New creates a server with all routes registered.
func New(cfg *config.Config, database *db.DB, deps Deps) *Server {
	s := &Server{cfg: cfg, db: database, deps: deps}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Driftwatch-Workspace"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	signal.RegisterRoutes(r, s.deps.Signals, s.deps.Intake, signal.WebhookSecrets{
		GitHub:    s.cfg.Webhooks.GitHubSecret,
		PagerDuty: s.cfg.Webhooks.PagerDutySecret,
		Datadog:   s.cfg.Webhooks.DatadogSecret,
	})
	docresolve.RegisterRoutes(r, s.deps.Mappings)
	approval.RegisterRoutes(r, s.deps.Approvals, s.cfg.Slack.SigningSecret)
	audit.RegisterRoutes(r, s.deps.Audit, s.deps.AuditFeed)

	r.Route("/api/drifts", func(r chi.Router) {
		r.Get("/", s.handleListDrifts)
		r.Get("/{driftID}", s.handleGetDrift)
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) handleListDrifts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := drift.ListFilter{
		State:   drift.State(strings.ToUpper(q.Get("state"))),
		Service: q.Get("service"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}

	drifts, err := s.deps.Drifts.List(r.Context(), workspaceFrom(r), filter)
	if err != nil {
		log.Printf("listing drifts: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drifts": drifts, "count": len(drifts)})
}

func (s *Server) handleGetDrift(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Drifts.Get(r.Context(), workspaceFrom(r), chi.URLParam(r, "driftID"))
	if errors.Is(err, drift.ErrNotFound) {
		http.Error(w, `{"error":"drift not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("loading drift: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func workspaceFrom(r *http.Request) string {
	if ws := r.URL.Query().Get("workspace"); ws != "" {
		return ws
	}
	if ws := r.Header.Get("X-Driftwatch-Workspace"); ws != "" {
		return ws
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("driftwatch server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
