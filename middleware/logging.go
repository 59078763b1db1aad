// Package middleware implements the handler-library collaborator spec.md
// scopes out of the core (spec §1: "Handler library (logging middleware,
// static file serving)"): a logging wrapper and a static file handler, both
// built as router.Handler values per the spec's "handler as value" design
// note (§9) rather than a class hierarchy.
package middleware

import (
	"time"

	"github.com/badu/httpd/message"
	"github.com/badu/httpd/router"
)

// Logger is the minimal capability this package needs, matching the shape
// used by conn/pool/server: a structured logger can be plugged in at the
// cmd/httpd bootstrap without this package importing it directly.
type Logger interface {
	Printf(format string, args ...any)
}

// Logging wraps next, logging method, target, resulting status, and
// duration for every request it dispatches. Grounded on the teacher's
// Server.ErrorLog usage pattern (a logger called at well-defined points
// around a request), generalized here into a handler-wrapping middleware
// since the core itself has no ServeHTTP call site to hook.
func Logging(logger Logger, next router.Handler) router.Handler {
	return func(req *message.Request) *message.Response {
		start := time.Now()
		resp := next(req)
		logger.Printf("%s %s %d %s", req.Method, req.Target, resp.Status, time.Since(start))
		return resp
	}
}
