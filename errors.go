package refreshguard

import "errors"

var (
	// ErrRefreshInvalid is the uniform failure returned by Rotate and
	// Validate. Callers cannot distinguish unknown, expired, and reused
	// tokens from it; the distinction is observable through audit events
	// and metrics only.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrTokenNotFound is returned by Revoke when no record exists for
	// the presented token.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenAlreadyInactive is returned by Revoke when the target
	// record is already revoked or expired.
	ErrTokenAlreadyInactive = errors.New("refresh token already inactive")
	// ErrStorageConflict is returned when a freshly generated token hash
	// collides twice in a row. Effectively unreachable with 256-bit
	// secrets, surfaced so callers can retry.
	ErrStorageConflict = errors.New("refresh token storage conflict")
	// ErrIssueRateLimited is returned by Generate when the issuance
	// budget for the user or IP is exhausted.
	ErrIssueRateLimited = errors.New("token issuance rate limited")
	// ErrRotateRateLimited is returned by Rotate when the per-token
	// rotation budget is exhausted.
	ErrRotateRateLimited = errors.New("token rotation rate limited")
	// ErrIdentityInvalid is returned by Generate when the identity has no
	// user ID.
	ErrIdentityInvalid = errors.New("identity requires a user id")
	// ErrEngineNotReady is returned when Engine methods are called on a
	// zero or nil engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
