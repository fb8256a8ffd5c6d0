// Package redis opens go-redis clients with startup retries and exposes a
// readiness check.
package redis
