package refreshguard

import (
	"context"
	"time"
)

// Identity is the caller-supplied view of an authenticated user. Roles are
// opaque strings; the engine embeds them in access tokens without
// interpretation.
type Identity struct {
	UserID                 string
	Username               string
	Roles                  []string
	PasswordChangeRequired bool
}

// IdentityProvider resolves the current identity for a user ID. The engine
// calls it during rotation so freshly issued access tokens reflect role
// and password-state changes made since the original login.
type IdentityProvider interface {
	LookupIdentity(ctx context.Context, userID string) (Identity, error)
}

// TokenPair is returned by [Engine.Generate] and [Engine.Rotate]. The
// refresh token is opaque; only its hash is stored server-side.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
}

// TokenInfo is a diagnostic view of a stored refresh token record. It
// never includes hashes or secrets.
type TokenInfo struct {
	ID          string
	UserID      string
	FamilyID    string
	ParentID    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RememberMe  bool
	CreatedByIP string
}
