// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ManuGH/streamwarden/internal/log"
)

// HeaderRequestID carries the correlation id; inbound values are
// trusted, otherwise one is generated.
const HeaderRequestID = "X-Request-ID"

// RequestID attaches a correlation id to the request context and echoes
// it in the response so log lines can be tied to client reports.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
