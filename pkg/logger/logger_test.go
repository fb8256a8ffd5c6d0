package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

type ctxKey struct{}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("writes json with static attributes", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithAttr(slog.String("service", "verdict")),
		)
		log.Info("hello", logger.Identity("anon:abc"))

		m := decodeLine(t, &buf)
		assert.Equal(t, "hello", m["msg"])
		assert.Equal(t, "verdict", m["service"])
		assert.Equal(t, "anon:abc", m["identity"])
	})

	t.Run("injects attributes from context", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
				v, ok := ctx.Value(ctxKey{}).(string)
				if !ok {
					return slog.Attr{}, false
				}
				return slog.String("trace", v), true
			}),
		)
		ctx := context.WithValue(context.Background(), ctxKey{}, "t-1")
		log.InfoContext(ctx, "with context")

		m := decodeLine(t, &buf)
		assert.Equal(t, "t-1", m["trace"])
	})

	t.Run("respects level name", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithLevelName("warn"))
		log.Info("dropped")
		assert.Empty(t, buf.String())
		log.Warn("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("production environment uses json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithEnvironment("prod", "verdict"))
		log.Debug("dropped")
		log.Info("kept")
		m := decodeLine(t, &buf)
		assert.Equal(t, "production", m["env"])
		assert.Equal(t, "verdict", m["service"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil))
	assert.Equal(t, "error", logger.Error(errors.New("boom")).Key)
	assert.Equal(t, slog.Attr{}, logger.RequestID(""))
	assert.Equal(t, slog.Attr{}, logger.Identity(""))
	assert.Equal(t, "evt_1", logger.EventID("evt_1").Value.String())
}
