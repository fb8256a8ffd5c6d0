package httpserver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/httpserver"
	"github.com/dmitrymomot/verdict/pkg/logger"
)

func TestServerRun(t *testing.T) {
	t.Parallel()

	t.Run("stops when context is cancelled", func(t *testing.T) {
		t.Parallel()
		srv := httpserver.New(httpserver.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx, http.NotFoundHandler()) }()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("server did not stop")
		}
	})

	t.Run("reports listen failure", func(t *testing.T) {
		t.Parallel()
		srv := httpserver.New(httpserver.Config{Addr: "127.0.0.1:99999"}, nil)
		err := srv.Run(context.Background(), http.NotFoundHandler())
		require.ErrorIs(t, err, httpserver.ErrStart)
	})
}

func TestHealthCheckHandler(t *testing.T) {
	t.Parallel()

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		h := httpserver.HealthCheckHandler(logger.Discard(), httpserver.Check{
			Name:  "store",
			Check: func(context.Context) error { return nil },
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("failed check", func(t *testing.T) {
		t.Parallel()
		h := httpserver.HealthCheckHandler(logger.Discard(), httpserver.Check{
			Name:  "redis",
			Check: func(context.Context) error { return errors.New("connection refused") },
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "redis")
	})
}
