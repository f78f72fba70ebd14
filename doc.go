// Package refreshguard provides a refresh token lifecycle engine with JWT
// access tokens, rotating opaque refresh tokens, and Redis-backed family
// tracking for reuse detection.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// refreshguard is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (TokenPair, TokenInfo, MetricsSnapshot). Redis
// key layout, Lua scripts, and token encoding live under token/ and
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, record hashes, or plaintext secrets in its
//     public API.
//   - Authenticate users. Callers verify credentials and hand the engine
//     an [Identity]; the engine only manages tokens from there.
//   - Reveal why a refresh token was rejected. Rotate and Validate fail
//     uniformly with [ErrRefreshInvalid]; the distinction between unknown,
//     expired, and reused tokens is observable through audit events and
//     metrics only.
//
// # Performance contract
//
// Rotate is the hot path. It must complete in one identity lookup plus a
// constant number of Redis round-trips, with the state transition itself
// a single Lua compare-and-swap.
package refreshguard
