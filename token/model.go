package token

// State classifies a stored refresh token record at a point in time.
type State uint8

const (
	// StateActive means the record is neither revoked nor expired.
	StateActive State = iota
	// StateExpired means the record passed its expiry without being revoked.
	StateExpired
	// StateRevoked means the record was consumed by rotation or revoked explicitly.
	StateRevoked
)

// Record is the stored representation of a single refresh token. The
// plaintext secret never appears here; TokenHash carries the hex-encoded
// SHA-256 of the secret half of the opaque token.
//
// Records stay in Redis after revocation (for a retention window) so that
// a replayed token can still be recognized and traced to its family.
type Record struct {
	ID            string
	UserID        string
	FamilyID      string
	TokenHash     string
	ParentID      string
	ReplacedBy    string
	CreatedAt     int64
	ExpiresAt     int64
	RevokedAt     int64
	RevokedReason string
	RememberMe    bool
	CreatedByIP   string
}

// StateAt returns the record state at the given Unix time. The expiry
// boundary is inclusive: a record whose ExpiresAt equals now is expired.
func (r *Record) StateAt(now int64) State {
	if r.RevokedAt > 0 {
		return StateRevoked
	}
	if r.ExpiresAt <= now {
		return StateExpired
	}
	return StateActive
}
