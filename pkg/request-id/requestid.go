// Package requestid tags every request with a UUID.
package requestid

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const HeaderName = "X-Request-ID"

// Middleware reuses an inbound X-Request-ID or generates a UUID v4, echoes it on
// the response and stores it where chi's middleware.GetReqID finds it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderName)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderName, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request id, or an empty string.
func FromContext(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
