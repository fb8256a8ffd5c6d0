// Package identity derives the key under which a caller's entitlements are
// tracked.
//
// Authenticated callers are identified by their account id, taken from a
// signed session token issued by the auth collaborator. Everyone else gets an
// anonymous identity: a SHA-256 fingerprint over a fixed, ordered list of
// client attributes (user agent, language, platform, screen geometry, colour
// depth, timezone). Missing attributes are replaced by a placeholder so the
// resolver never fails.
//
// Fingerprints are best effort. Two visitors on identical browser builds
// behind the same settings share a key, and a visitor who changes browser or
// clears client hints gets a new one. Both effects are accepted: they skew
// free-tier counting for anonymous visitors only and never touch paid credits,
// which are always bound to an account.
package identity
