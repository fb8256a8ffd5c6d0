// Package httpserver wraps net/http.Server with context-driven graceful
// shutdown and a JSON readiness handler.
package httpserver
