// Package token persists refresh token records in Redis and implements the
// conditional state transitions the rotation protocol depends on.
//
// # Architecture boundaries
//
// token owns the Redis key layout and the Lua scripts. It knows nothing
// about opaque token encoding, JWTs, rate limits, or session caps; those
// live in the root package. Callers hand it record IDs and secret hashes,
// never plaintext secrets.
//
// # What this package must NOT do
//
//   - Decide policy: TTL selection, session caps, and reuse response are
//     the engine's job.
//   - Perform multi-command read-modify-write cycles for state
//     transitions. Anything conditional goes through a single Lua script.
//   - Delete revoked records before their retention window lapses; reuse
//     detection depends on them staying queryable.
package token
