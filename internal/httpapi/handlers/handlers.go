// Package handlers contains the HTTP handlers for the routing engine's
// REST surface (C9), thin translators into Registry/Catalog/Store calls.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"batchroute/internal/apperr"
	"batchroute/internal/projcatalog"
	"batchroute/internal/registry"
	"batchroute/internal/upload"
	"batchroute/pkg/api"
)

// Deps bundles every dependency the handlers need.
type Deps struct {
	Registry *registry.Registry
	Uploads  *upload.Store
	Catalog  *projcatalog.Catalog
	Logger   *slog.Logger
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	registry *registry.Registry
	uploads  *upload.Store
	catalog  *projcatalog.Catalog
	logger   *slog.Logger
}

// New constructs a Handlers instance.
func New(d Deps) *Handlers {
	return &Handlers{
		registry: d.Registry,
		uploads:  d.Uploads,
		catalog:  d.Catalog,
		logger:   d.Logger,
	}
}

// respondJSON writes the standard {success, data} envelope.
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.Envelope{Success: true, Data: data})
}

// respondError writes the standard error envelope and maps apperr.Kind to
// an HTTP status (spec §7).
func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	if kind, ok := apperr.KindOf(err); ok {
		switch kind {
		case apperr.KindValidation:
			status = http.StatusBadRequest
		case apperr.KindNotFound:
			status = http.StatusNotFound
		case apperr.KindPrecondition:
			status = http.StatusBadRequest
		case apperr.KindFatal:
			status = http.StatusInternalServerError
		}
	}

	if h.logger != nil && status == http.StatusInternalServerError {
		h.logger.Error("unhandled server error", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Success: false, Error: err.Error()})
}

func (h *Handlers) respondValidation(w http.ResponseWriter, fields []api.FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(api.ErrorResponse{Success: false, Error: "validation failed", Fields: fields})
}

