// Package shield provides the HTTP middleware stack of the nfsebot API:
// security headers, JSON body limits, request tracing, owner identity and
// per-owner rate limiting of the automation endpoints.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack() {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultAPIStack returns the standard middleware stack.
// Order: SecurityHeaders → MaxJSONBody → Owner → TraceID, so request logs
// carry the owner.
func DefaultAPIStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(256 * 1024),
		Owner,
		TraceID,
	}
}
