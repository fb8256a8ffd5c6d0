// Package ratelimiter throttles requests per network with a token bucket.
//
// The entitlement quota counts checks per identity. Anonymous identities are
// device fingerprints, which a client can rotate at will, so the check
// endpoint is additionally limited per client network. IPv6 clients are
// grouped by /64, the block a single subscriber usually holds.
//
//	cfg := ratelimiter.Config{Capacity: 20, RefillRate: 10, RefillInterval: time.Minute}
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	bucket, err := ratelimiter.NewBucket(store, cfg)
//	if err != nil {
//		return err
//	}
//	r.With(ratelimiter.Middleware(bucket, ratelimiter.ByNetwork())).Post("/api/checks", h)
//
// Forwarding headers are honored only from trusted proxies:
//
//	proxies, err := ratelimiter.ParseTrustedProxies([]string{"10.0.0.0/8"})
//	key := ratelimiter.ByNetwork(proxies...)
//
// RedisStore shares buckets between instances. A denied request does not
// take tokens, so a client that keeps retrying is let through as soon as the
// next refill lands.
package ratelimiter
