// Package rate provides internal primitives used to build Redis-backed rate
// limit keys, errors, and limiter behavior for the issuance and rotation paths.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rgl:iu: — issue per-user
//   - rgl:ii: — issue per-IP
//   - rgl:rt: — rotate per-token
//
// # What this package must NOT do
//
//   - Decide throttle budgets (the engine passes them in from Config).
//   - Be imported outside the refreshguard module.
package rate
