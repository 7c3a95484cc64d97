// SPDX-License-Identifier: MIT

// Package middleware holds the cross-cutting HTTP concerns of the
// control surface: panic recovery, request correlation, security
// headers, metrics, tracing and rate limiting.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/ManuGH/streamwarden/internal/log"
)

// Recoverer keeps handler panics from killing the process. The panic is
// logged with its stack and the client gets a 500 JSON envelope.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)

				reqID := log.RequestIDFromContext(r.Context())
				logger := log.WithComponentFromContext(r.Context(), "api")
				logger.Error().
					Str("event", "api.panic_recovered").
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic_value", rec).
					Str("stack", string(buf[:n])).
					Msg("panic recovered in HTTP handler")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":      "internal server error",
					"request_id": reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
