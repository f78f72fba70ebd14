// Package internal contains helper utilities that are intentionally private
// to refreshguard, including secure random generation and the opaque refresh
// token wire encoding.
//
// # Sub-packages
//
//   - rate — Redis-backed fixed-window rate limit primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public refreshguard API.
//   - Be imported by any package outside the refreshguard module.
package internal
