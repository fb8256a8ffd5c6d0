package handler

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// RequestIDExtractor adds the chi request id to log records.
func RequestIDExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id := middleware.GetReqID(ctx)
		if id == "" {
			return slog.Attr{}, false
		}
		return logger.RequestID(id), true
	}
}
