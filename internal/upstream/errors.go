// SPDX-License-Identifier: MIT

package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies upstream failures so callers can pick a recovery strategy
// without parsing error strings.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	// The client retries these itself; a returned transient error means
	// the context was canceled before retries were exhausted.
	KindTransient Kind = iota
	// KindAuth means authentication failed even after a token refresh and
	// a full re-login. Callers should treat it as terminal.
	KindAuth
	// KindNotFound maps 404 responses.
	KindNotFound
	// KindConflict maps 409 responses.
	KindConflict
	// KindPermanent covers remaining 4xx responses and transient failures
	// that exhausted their retry budget.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "permanent"
	}
}

// Error is the typed error returned by every client operation.
type Error struct {
	Kind   Kind
	Status int    // HTTP status if one was received, else 0
	Route  string // stable operation label, e.g. "streams.list"
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s: %s (status %d): %v", e.Route, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.Route, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an upstream error, or KindPermanent for
// anything else.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindPermanent
}

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsAuth reports whether err is a terminal authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsNotFound reports whether err maps an upstream 404.
func IsNotFound(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == KindNotFound
}

// IsConflict reports whether err maps an upstream 409.
func IsConflict(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == KindConflict
}

// classifyStatus maps an HTTP status to an error kind. 2xx never reaches it.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return KindTransient
	case status >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindPermanent
	}
}
