package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rephole/rephole/application/service"
	v1 "github.com/rephole/rephole/infrastructure/api/v1"
	"github.com/rephole/rephole/infrastructure/persistence"
)

// APIServer wires the ingestion, job-status, and query endpoints onto a
// chi router. Producers are stateless, so an APIServer carries no
// per-repository state of its own.
type APIServer struct {
	producer     service.Producer
	query        service.Query
	jobs         persistence.JobStore
	server       *Server
	router       chi.Router
	routerCalled bool
	logger       *slog.Logger
}

// NewAPIServer creates a new APIServer wired to the given producer, query
// service, and job store.
func NewAPIServer(producer service.Producer, query service.Query, jobs persistence.JobStore, logger *slog.Logger) *APIServer {
	return &APIServer{
		producer: producer,
		query:    query,
		jobs:     jobs,
		logger:   logger,
	}
}

// Router returns the chi router for customization before starting.
// Call this first, add custom middleware with router.Use(), then call MountRoutes().
// If not called, ListenAndServe creates a default router with all standard routes.
func (a *APIServer) Router() chi.Router {
	if a.router != nil {
		return a.router
	}

	a.router = chi.NewRouter()
	a.routerCalled = true
	return a.router
}

// MountRoutes wires up all v1 API routes on the router.
// Call this after adding any custom middleware via Router().Use().
func (a *APIServer) MountRoutes() {
	if a.router == nil {
		a.Router()
	}
	a.mountRoutes(a.router)
}

// mountRoutes wires up all v1 API routes on the given router.
func (a *APIServer) mountRoutes(router chi.Router) {
	ingestionsRouter := v1.NewIngestionsRouter(a.producer)
	jobsRouter := v1.NewJobsRouter(a.jobs)
	queriesRouter := v1.NewQueriesRouter(a.query)
	healthRouter := v1.NewHealthRouter()

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		r.Mount("/ingestions", ingestionsRouter.Routes())
		r.Mount("/jobs", jobsRouter.Routes())
		r.Mount("/queries", queriesRouter.Routes())
	})

	router.Mount("/health", healthRouter.Routes())
}

// ListenAndServe starts the HTTP server on the given address.
func (a *APIServer) ListenAndServe(addr string) error {
	server := NewServer(addr, a.logger)
	a.server = &server

	if a.routerCalled && a.router != nil {
		server.Router().Mount("/", a.router)
	} else {
		a.mountRoutes(server.Router())
	}

	return server.Start()
}

// Shutdown gracefully shuts down the server.
func (a *APIServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Handler returns the router as an http.Handler for use with custom servers.
func (a *APIServer) Handler() http.Handler {
	if a.router == nil {
		a.Router()
		a.MountRoutes()
	}
	return a.router
}
