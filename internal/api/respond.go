// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ManuGH/streamwarden/internal/engine"
	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/upstream"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// errorBody is the uniform error envelope. Field is set for validation
// failures so clients can highlight the offending input.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses: validation 400,
// busy engine 409, upstream failures by kind, everything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *model.FieldError
	if errors.As(err, &fe) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fe.Msg, Field: fe.Field})
		return
	}
	if errors.Is(err, engine.ErrBusy) {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}

	var ue *upstream.Error
	if errors.As(err, &ue) {
		code := http.StatusBadGateway
		switch ue.Kind {
		case upstream.KindNotFound:
			code = http.StatusNotFound
		case upstream.KindConflict:
			code = http.StatusConflict
		}
		log.FromContext(r.Context()).Warn().Err(err).Str("event", "api.upstream_error").Msg("upstream call failed")
		writeJSON(w, code, errorBody{Error: err.Error()})
		return
	}

	log.FromContext(r.Context()).Error().Err(err).Str("event", "api.internal_error").Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

// decodeJSON reads a request body into v. Unknown fields and oversized
// bodies are rejected so typos surface as 400s instead of silent
// no-ops. An empty body leaves v at its defaults.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &model.FieldError{Field: "body", Msg: "invalid request body: " + err.Error()}
	}
	return nil
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.FieldError{Field: "id", Msg: "must be a positive integer"}
	}
	return id, nil
}

// queryInt64 parses an optional integer query parameter.
func queryInt64(r *http.Request, key string) (int64, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, &model.FieldError{Field: key, Msg: "must be an integer"}
	}
	return v, true, nil
}
