// Package binder decodes HTTP request bodies into Go values.
//
// JSON enforces the application/json media type, a size limit and strict
// decoding: unknown fields and trailing data are rejected. String values are
// delivered as sent, since request payloads such as image data URLs must
// reach their consumer unchanged.
//
//	r.Post("/api/checks", handler.Wrap(performCheck,
//		handler.WithBinders(binder.JSON(8<<20)),
//	))
package binder
