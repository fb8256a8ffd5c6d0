// Package handler provides typed HTTP handlers and the JSON envelope used by
// the public API.
//
// A HandlerFunc receives a bound request value and returns a Response:
//
//	type checkRequest struct {
//		Text string `json:"text"`
//	}
//
//	func performCheck(ctx handler.Context, req checkRequest) handler.Response {
//		res, err := svc.PerformCheck(ctx, identityOf(ctx), req.content())
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(res)
//	}
//
//	r.Post("/api/checks", handler.Wrap(performCheck,
//		handler.WithBinders(binder.JSON(binder.DefaultMaxJSONSize)),
//		handler.WithErrorHandler(handler.NewErrorHandler(log)),
//	))
//
// Every JSON body uses the envelope {data, meta, error}. Errors are mapped to
// status codes through HTTPError; anything else becomes 500 without leaking
// its message.
package handler
