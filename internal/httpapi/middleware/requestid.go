// Package middleware contains HTTP middleware for the boundary handlers.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"batchroute/internal/logger"
)

// RequestID attaches a correlation ID to the request context, generating
// one when the caller did not supply X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
