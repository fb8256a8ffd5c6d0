package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/binder"
)

type payload struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func request(contentType, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestJSON(t *testing.T) {
	t.Parallel()
	bind := binder.JSON(64)

	t.Run("decodes", func(t *testing.T) {
		t.Parallel()
		var p payload
		require.NoError(t, bind(request("application/json; charset=utf-8", `{"text":" <b>hi</b> "}`), &p))
		assert.Equal(t, " <b>hi</b> ", p.Text, "strings are not altered")
	})

	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     error
	}{
		{"missing content type", "", `{}`, binder.ErrMissingContentType},
		{"wrong media type", "text/plain", `{}`, binder.ErrUnsupportedMediaType},
		{"empty body", "application/json", ``, binder.ErrFailedToParseJSON},
		{"unknown field", "application/json", `{"video":"x"}`, binder.ErrFailedToParseJSON},
		{"wrong type", "application/json", `{"text":1}`, binder.ErrFailedToParseJSON},
		{"trailing data", "application/json", `{"text":"a"}{"text":"b"}`, binder.ErrFailedToParseJSON},
		{"too large", "application/json", `{"text":"` + strings.Repeat("x", 64) + `"}`, binder.ErrBodyTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var p payload
			err := bind(request(tt.contentType, tt.body), &p)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("default limit", func(t *testing.T) {
		t.Parallel()
		var p payload
		body := `{"image":"data:image/png;base64,` + strings.Repeat("A", 2*binder.DefaultMaxJSONSize) + `"}`
		err := binder.JSON(0)(request("application/json", body), &p)
		assert.ErrorIs(t, err, binder.ErrBodyTooLarge)
	})
}
