// Package httpapi wires the boundary handlers (C9) into an http.Server
// using the Go 1.22+ method+wildcard ServeMux, mirroring the teacher's
// controller.Server.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"batchroute/internal/broadcaster"
	"batchroute/internal/httpapi/handlers"
	"batchroute/internal/httpapi/middleware"
	"batchroute/internal/httpapi/ws"
	"batchroute/internal/projcatalog"
	"batchroute/internal/registry"
	"batchroute/internal/upload"
)

// Server is the HTTP server exposing the routing engine's REST and
// WebSocket surface.
type Server struct {
	httpServer *http.Server
}

// Deps bundles every dependency the boundary handlers need.
type Deps struct {
	Registry       *registry.Registry
	Uploads        *upload.Store
	Catalog        *projcatalog.Catalog
	Broadcaster    *broadcaster.Broadcaster
	Logger         *slog.Logger
	MetricsHandler http.Handler
}

// New constructs a Server listening on addr.
func New(addr string, deps Deps) *Server {
	h := handlers.New(handlers.Deps{
		Registry: deps.Registry,
		Uploads:  deps.Uploads,
		Catalog:  deps.Catalog,
		Logger:   deps.Logger,
	})
	hub := ws.NewHub(deps.Broadcaster, deps.Registry, deps.Logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health)

	mux.HandleFunc("POST /api/upload", h.Upload)
	mux.HandleFunc("GET /api/upload/{fileId}/sample", h.Sample)

	mux.HandleFunc("GET /api/projections", h.ListProjections)

	mux.HandleFunc("POST /api/routing/batch", h.SubmitBatch)
	mux.HandleFunc("GET /api/routing/status/{jobId}", h.Status)
	mux.HandleFunc("GET /api/routing/results/{jobId}", h.Results)
	mux.HandleFunc("GET /api/routing/export/{jobId}", h.Export)
	mux.HandleFunc("GET /api/routing/metadata/{jobId}", h.Metadata)
	mux.HandleFunc("DELETE /api/routing/job/{jobId}", h.Cancel)
	mux.HandleFunc("DELETE /api/routing/job/{jobId}/cleanup", h.CleanupJob)
	mux.HandleFunc("POST /api/routing/retry/{jobId}", h.Retry)

	mux.HandleFunc("GET /ws", hub.ServeHTTP)

	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}

	handler := middleware.RequestID(middleware.Logging(deps.Logger)(mux))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // export streaming can run long; bounded by client
		},
	}
}

// Run starts the HTTP server. It blocks until ctx is cancelled, then
// gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
