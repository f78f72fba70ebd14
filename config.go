package refreshguard

import (
	"errors"
	"time"
)

// Config holds the full engine configuration tree. Zero values are not
// usable; start from the defaults applied by [New] and override fields
// through [Builder.WithConfig].
type Config struct {
	JWT          JWTConfig
	Token        TokenConfig
	SessionLimit SessionLimitConfig
	Security     SecurityConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access token issuance and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default), "ed25519" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures refresh token storage and lifetimes.
// RetentionGrace controls how long revoked records stay queryable past
// expiry; reuse detection depends on it being non-zero.
type TokenConfig struct {
	RedisPrefix    string
	RefreshTTL     time.Duration
	RememberMeTTL  time.Duration
	RetentionGrace time.Duration
}

// SessionLimitConfig caps concurrent active refresh tokens per user.
// When the cap would be exceeded at issuance, the oldest active token is
// revoked to make room. Zero disables the cap.
type SessionLimitConfig struct {
	MaxActivePerUser int
}

// SecurityConfig configures the Redis-backed fixed-window throttles.
type SecurityConfig struct {
	EnableIssueThrottle    bool
	EnableRotateThrottle   bool
	MaxIssueAttempts       int
	IssueCooldownDuration  time.Duration
	MaxRotateAttempts      int
	RotateCooldownDuration time.Duration
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures the in-process metrics registry.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a production-ready configuration. Callers adjust
// the fields they care about, then pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			SigningMethod: "hs256",
		},
		Token: TokenConfig{
			RedisPrefix:    "rt",
			RefreshTTL:     7 * 24 * time.Hour,
			RememberMeTTL:  30 * 24 * time.Hour,
			RetentionGrace: 24 * time.Hour,
		},
		SessionLimit: SessionLimitConfig{
			MaxActivePerUser: 5,
		},
		Security: SecurityConfig{
			EnableIssueThrottle:    true,
			EnableRotateThrottle:   true,
			MaxIssueAttempts:       10,
			IssueCooldownDuration:  15 * time.Minute,
			MaxRotateAttempts:      20,
			RotateCooldownDuration: 1 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internal consistency. Build calls
// it; exported so callers can validate ahead of time.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "hs256" && c.JWT.SigningMethod != "ed25519" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Token
	if c.Token.RedisPrefix == "" {
		return errors.New("Token RedisPrefix is required")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RememberMeTTL < c.Token.RefreshTTL {
		return errors.New("Token RememberMeTTL must be >= RefreshTTL")
	}
	if c.Token.RetentionGrace <= 0 {
		return errors.New("Token RetentionGrace must be > 0")
	}
	if c.JWT.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("JWT AccessTTL must be < Token RefreshTTL")
	}

	// Session limit
	if c.SessionLimit.MaxActivePerUser < 0 {
		return errors.New("SessionLimit MaxActivePerUser must be >= 0")
	}

	// Security
	if c.Security.EnableIssueThrottle {
		if c.Security.MaxIssueAttempts <= 0 {
			return errors.New("MaxIssueAttempts must be > 0 when issue throttle is enabled")
		}
		if c.Security.IssueCooldownDuration <= 0 {
			return errors.New("IssueCooldownDuration must be > 0 when issue throttle is enabled")
		}
	}
	if c.Security.EnableRotateThrottle {
		if c.Security.MaxRotateAttempts <= 0 {
			return errors.New("MaxRotateAttempts must be > 0 when rotate throttle is enabled")
		}
		if c.Security.RotateCooldownDuration <= 0 {
			return errors.New("RotateCooldownDuration must be > 0 when rotate throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
