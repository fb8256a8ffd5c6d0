package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// statusOf returns the status code err maps to.
func statusOf(err error) int {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return http.StatusUnprocessableEntity
	}
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// NewErrorHandler returns an ErrorHandler that logs err and renders it as a
// JSON error. Client errors are logged at Warn, server errors at Error. The
// request id is attached by RequestIDExtractor when the logger carries it.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx Context, err error) {
		r := ctx.Request()
		status := statusOf(err)
		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request error",
			logger.Component("http"),
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		if rerr := JSONError(err).Render(ctx.ResponseWriter(), r); rerr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(rerr))
		}
	}
}
