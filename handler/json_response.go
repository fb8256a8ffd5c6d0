package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// JSONResponse is the envelope of every JSON body.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail is the error member of the envelope. Details carries
// per-field messages of a ValidationError.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j *jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures a JSON response.
type JSONOption func(*jsonResponse)

// WithJSONStatus overrides the status code.
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) { r.status = status }
}

// WithJSONMeta sets the meta member.
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) { r.body.Meta = meta }
}

// JSON renders v as the data member with status 200. A JSONResponse is sent
// as is, which lets a handler return data and an error together. An error
// value is rendered like JSONError.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK}
	switch val := v.(type) {
	case JSONResponse:
		r.body = val
	case error:
		r.status, r.body.Error = describe(val)
	default:
		r.body.Data = v
	}
	return r.apply(opts)
}

// JSONError renders err as the error member. The status comes from an
// HTTPError or ValidationError in err's chain, otherwise it is 500.
func JSONError(err error, opts ...JSONOption) Response {
	r := &jsonResponse{}
	r.status, r.body.Error = describe(err)
	return r.apply(opts)
}

func (j *jsonResponse) apply(opts []JSONOption) *jsonResponse {
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// describe maps err to a status and a client-safe detail. Messages of
// unknown errors never reach the client.
func describe(err error) (int, *ErrorDetail) {
	var verr ValidationError
	if errors.As(err, &verr) {
		detail := &ErrorDetail{Code: "validation_error", Message: verr.Error()}
		if len(verr) > 0 {
			detail.Details = maps.Clone(map[string][]string(verr))
		}
		return http.StatusUnprocessableEntity, detail
	}

	var herr HTTPError
	if errors.As(err, &herr) {
		msg := herr.Message
		if msg == "" {
			msg = http.StatusText(herr.Code)
		}
		return herr.Code, &ErrorDetail{Code: herr.Key, Message: msg}
	}

	return http.StatusInternalServerError, &ErrorDetail{
		Code:    ErrInternalServerError.Key,
		Message: http.StatusText(http.StatusInternalServerError),
	}
}
