package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// Check is a named readiness check for one dependency.
type Check struct {
	Name  string
	Check func(context.Context) error
}

// HealthCheckHandler reports readiness of the given dependencies as JSON.
// It answers 200 with {"status":"ok"} when every check passes and 503
// otherwise, naming the failed checks. Without checks it acts as a liveness check.
func HealthCheckHandler(log *slog.Logger, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		failed := map[string]string{}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed",
					logger.Component("health"),
					slog.String("check", c.Name),
					logger.Error(err),
				)
				failed[c.Name] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}

		body := map[string]any{"status": "ok"}
		if len(failed) > 0 {
			body = map[string]any{"status": "unavailable", "failed": failed}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
