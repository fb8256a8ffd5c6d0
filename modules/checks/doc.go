// Package checks exposes the detector over HTTP.
//
// Routes:
//
//	GET    /api/entitlement   remaining checks of the caller
//	POST   /api/checks        consume one check and classify the content
//	GET    /api/offers        offers for sale (with checkout configured)
//	POST   /api/checkout      start a hosted checkout (signed-in accounts only)
//	POST   /webhooks/{name}   payment notifications
//	GET    /health            readiness
//	GET    /metrics           Prometheus metrics
//
// Callers are identified by identity.Middleware: a valid bearer session
// selects the account, anything else falls back to the device fingerprint.
// A denied check answers 402 with the current balance in the data field.
//
// Usage records cannot be deleted over the API; that happens only when the
// account itself is removed (see the server's delete-account command).
package checks
