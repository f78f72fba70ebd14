package refreshguard

import "time"

// SecurityReport is a read-only snapshot of the engine's effective token
// policy, returned by [Engine.SecurityReport].
type SecurityReport struct {
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RememberMeTTL        time.Duration
	RetentionGrace       time.Duration
	MaxActivePerUser     int
	IssueThrottleActive  bool
	RotateThrottleActive bool
	AuditEnabled         bool
	MetricsEnabled       bool
}

// SecurityReport returns the engine's current security posture. Values
// reflect the validated configuration, not runtime state.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil || e.jwtManager == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm:     e.jwtManager.Algorithm(),
		AccessTTL:            e.config.JWT.AccessTTL,
		RefreshTTL:           e.config.Token.RefreshTTL,
		RememberMeTTL:        e.config.Token.RememberMeTTL,
		RetentionGrace:       e.config.Token.RetentionGrace,
		MaxActivePerUser:     e.config.SessionLimit.MaxActivePerUser,
		IssueThrottleActive:  e.config.Security.EnableIssueThrottle,
		RotateThrottleActive: e.config.Security.EnableRotateThrottle,
		AuditEnabled:         e.config.Audit.Enabled,
		MetricsEnabled:       e.config.Metrics.Enabled,
	}
}
