package refreshguard

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/keyfold/refreshguard/internal"
	"github.com/keyfold/refreshguard/internal/rate"
	"github.com/keyfold/refreshguard/jwt"
	"github.com/keyfold/refreshguard/token"
)

// Engine is the refresh token lifecycle engine. All methods are safe for
// concurrent use after construction through [Builder.Build].
type Engine struct {
	config      Config
	store       *token.Store
	jwtManager  *jwt.Manager
	identity    IdentityProvider
	rateLimiter *rate.Limiter
	audit       *auditDispatcher
	metrics     *Metrics
	clock       func() time.Time
}

// Generate issues a fresh token pair for an authenticated identity,
// starting a new token family. rememberMe selects the long refresh
// lifetime. When the per-user session cap is reached, the oldest active
// token is revoked to make room.
func (e *Engine) Generate(ctx context.Context, identity Identity, rememberMe bool) (*TokenPair, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if identity.UserID == "" {
		return nil, ErrIdentityInvalid
	}

	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckIssue(ctx, identity.UserID, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(MetricIssueRateLimited)
			e.emitAudit(ctx, AuditEvent{
				EventType: auditIssueRateLimited,
				UserID:    identity.UserID,
				IP:        ip,
				Error:     ErrIssueRateLimited.Error(),
			})
			return nil, ErrIssueRateLimited
		}
		return nil, err
	}

	if err := e.enforceSessionLimit(ctx, identity.UserID, ip); err != nil {
		e.metrics.Inc(MetricIssueFailure)
		return nil, err
	}

	now := e.clock()
	ttl := e.config.Token.RefreshTTL
	if rememberMe {
		ttl = e.config.Token.RememberMeTTL
	}
	familyID := uuid.NewString()

	rec, refreshToken, err := e.createRecord(
		ctx, identity.UserID, familyID, "", now, now.Add(ttl), rememberMe, ip,
	)
	if err != nil {
		e.metrics.Inc(MetricIssueFailure)
		return nil, err
	}

	access, accessExpiresAt, err := e.jwtManager.CreateAccess(
		identity.UserID,
		identity.Username,
		identity.Roles,
		identity.PasswordChangeRequired,
	)
	if err != nil {
		// Do not leave a usable refresh token behind a failed issuance.
		_ = e.store.Revoke(ctx, rec.ID, rec.UserID, token.ReasonManual)
		e.metrics.Inc(MetricIssueFailure)
		return nil, err
	}

	e.metrics.Inc(MetricIssueSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditTokenIssued,
		UserID:    identity.UserID,
		TokenID:   rec.ID,
		FamilyID:  familyID,
		IP:        ip,
		Success:   true,
	})

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: time.Unix(rec.ExpiresAt, 0),
		UserID:           identity.UserID,
	}, nil
}

// Rotate exchanges a live refresh token for a fresh token pair. The
// presented token is retired and its replacement joins the same family.
// Presenting an already consumed token revokes the entire family and
// fails with the same [ErrRefreshInvalid] as any other bad token.
func (e *Engine) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	id, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRotateFailure)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditRotateInvalid,
			IP:        ip,
			Error:     ErrRefreshInvalid.Error(),
			Metadata:  map[string]string{"kind": "malformed"},
		})
		return nil, ErrRefreshInvalid
	}

	if err := e.rateLimiter.CheckRotate(ctx, id); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(MetricRotateRateLimited)
			e.emitAudit(ctx, AuditEvent{
				EventType: auditRotateRateLimited,
				TokenID:   id,
				IP:        ip,
				Error:     ErrRotateRateLimited.Error(),
			})
			return nil, ErrRotateRateLimited
		}
		return nil, err
	}

	providedHash := internal.HashTokenSecret(secret)

	res, newID, newSecret, consumeErr := e.consumeWithRetry(
		ctx, id, hex.EncodeToString(providedHash[:]), ip,
	)

	switch {
	case consumeErr == nil:
		// success path continues below

	case errors.Is(consumeErr, token.ErrReuseDetected):
		e.metrics.Inc(MetricReuseDetected)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditReuseDetected,
			UserID:    res.UserID,
			TokenID:   id,
			FamilyID:  res.FamilyID,
			IP:        ip,
			Error:     "refresh token replayed after rotation",
		})

		revoked, famErr := e.store.RevokeFamily(ctx, res.UserID, res.FamilyID, token.ReasonReuse)
		if famErr != nil {
			return nil, famErr
		}
		e.metrics.Inc(MetricFamilyRevoked)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditFamilyRevoked,
			UserID:    res.UserID,
			FamilyID:  res.FamilyID,
			IP:        ip,
			Success:   true,
			Metadata:  map[string]string{"revoked": strconv.Itoa(revoked)},
		})
		return nil, ErrRefreshInvalid

	case errors.Is(consumeErr, token.ErrRecordNotFound):
		return nil, e.rejectRotate(ctx, id, ip, nil, "not_found")
	case errors.Is(consumeErr, token.ErrHashMismatch):
		return nil, e.rejectRotate(ctx, id, ip, nil, "mismatch")
	case errors.Is(consumeErr, token.ErrRecordExpired):
		return nil, e.rejectRotate(ctx, id, ip, res, "expired")
	case errors.Is(consumeErr, token.ErrHashConflict):
		e.metrics.Inc(MetricRotateFailure)
		return nil, ErrStorageConflict
	default:
		return nil, consumeErr
	}

	identity, err := e.identity.LookupIdentity(ctx, res.UserID)
	if err != nil {
		e.metrics.Inc(MetricRotateFailure)
		return nil, err
	}

	access, accessExpiresAt, err := e.jwtManager.CreateAccess(
		identity.UserID,
		identity.Username,
		identity.Roles,
		identity.PasswordChangeRequired,
	)
	if err != nil {
		e.metrics.Inc(MetricRotateFailure)
		return nil, err
	}

	wire, err := internal.EncodeRefreshToken(newID, newSecret)
	if err != nil {
		e.metrics.Inc(MetricRotateFailure)
		return nil, err
	}

	e.metrics.Inc(MetricRotateSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditTokenRotated,
		UserID:    res.UserID,
		TokenID:   newID,
		FamilyID:  res.FamilyID,
		IP:        ip,
		Success:   true,
		Metadata:  map[string]string{"parent_id": id},
	})

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     wire,
		RefreshExpiresAt: time.Unix(res.NewExpiresAt, 0),
		UserID:           res.UserID,
	}, nil
}

// Validate checks a refresh token without consuming it. Active tokens
// return their diagnostic view; everything else fails with
// [ErrRefreshInvalid].
func (e *Engine) Validate(ctx context.Context, refreshToken string) (*TokenInfo, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	start := e.clock()
	info, err := e.validateRefresh(ctx, refreshToken)
	e.metrics.Observe(MetricValidateLatency, e.clock().Sub(start))

	return info, err
}

func (e *Engine) validateRefresh(ctx context.Context, refreshToken string) (*TokenInfo, error) {
	ip := clientIPFromContext(ctx)

	id, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, e.rejectValidate(ctx, "", ip, "malformed")
	}

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, token.ErrRecordNotFound) {
			return nil, e.rejectValidate(ctx, id, ip, "not_found")
		}
		return nil, err
	}

	hash := internal.HashTokenSecret(secret)
	if hex.EncodeToString(hash[:]) != rec.TokenHash {
		return nil, e.rejectValidate(ctx, id, ip, "mismatch")
	}

	switch rec.StateAt(e.clock().Unix()) {
	case token.StateActive:
		e.metrics.Inc(MetricValidateSuccess)
		return tokenInfoFromRecord(rec), nil
	case token.StateExpired:
		return nil, e.rejectValidate(ctx, id, ip, "expired")
	default:
		return nil, e.rejectValidate(ctx, id, ip, "revoked")
	}
}

// Revoke retires a single refresh token ahead of its expiry. Revoking a
// token that is already revoked or expired returns
// [ErrTokenAlreadyInactive] and changes nothing.
func (e *Engine) Revoke(ctx context.Context, refreshToken string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	id, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return ErrRefreshInvalid
	}

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, token.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	hash := internal.HashTokenSecret(secret)
	if hex.EncodeToString(hash[:]) != rec.TokenHash {
		return ErrRefreshInvalid
	}

	err = e.store.Revoke(ctx, id, rec.UserID, token.ReasonManual)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrAlreadyInactive):
		return ErrTokenAlreadyInactive
	case errors.Is(err, token.ErrRecordNotFound):
		return ErrTokenNotFound
	default:
		return err
	}

	e.metrics.Inc(MetricTokenRevoked)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditTokenRevoked,
		UserID:    rec.UserID,
		TokenID:   id,
		FamilyID:  rec.FamilyID,
		IP:        ip,
		Success:   true,
	})

	return nil
}

// RevokeAllForUser retires every active refresh token a user holds, across
// all families and devices. Returns the number of tokens revoked.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrIdentityInvalid
	}

	revoked, err := e.store.RevokeAllForUser(ctx, userID, token.ReasonRevokeAll)
	if err != nil {
		return 0, err
	}

	e.metrics.Inc(MetricRevokeAll)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditRevokeAll,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   true,
		Metadata:  map[string]string{"revoked": strconv.Itoa(revoked)},
	})

	return revoked, nil
}

// IssueAccess signs a standalone access token for an identity without
// touching refresh state.
func (e *Engine) IssueAccess(identity Identity) (string, time.Time, error) {
	if e == nil || e.jwtManager == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if identity.UserID == "" {
		return "", time.Time{}, ErrIdentityInvalid
	}
	return e.jwtManager.CreateAccess(
		identity.UserID,
		identity.Username,
		identity.Roles,
		identity.PasswordChangeRequired,
	)
}

// ParseAccess verifies an access token and returns its claims.
func (e *Engine) ParseAccess(tokenStr string) (*jwt.AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	return e.jwtManager.ParseAccess(tokenStr)
}

// MetricsSnapshot returns a point-in-time copy of the engine's metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns the number of audit events discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) createRecord(
	ctx context.Context,
	userID, familyID, parentID string,
	now, expires time.Time,
	rememberMe bool,
	ip string,
) (*token.Record, string, error) {
	// A hash collision means the fresh secret already exists in the
	// index. One retry with new randomness; a second collision is
	// surfaced.
	for attempt := 0; attempt < 2; attempt++ {
		id, err := internal.NewTokenID()
		if err != nil {
			return nil, "", err
		}
		secret, err := internal.NewTokenSecret()
		if err != nil {
			return nil, "", err
		}
		hash := internal.HashTokenSecret(secret)

		rec := &token.Record{
			ID:          id.String(),
			UserID:      userID,
			FamilyID:    familyID,
			TokenHash:   hex.EncodeToString(hash[:]),
			ParentID:    parentID,
			CreatedAt:   now.Unix(),
			ExpiresAt:   expires.Unix(),
			RememberMe:  rememberMe,
			CreatedByIP: ip,
		}

		if err := e.store.Create(ctx, rec); err != nil {
			if errors.Is(err, token.ErrHashConflict) {
				e.metrics.Inc(MetricStorageConflict)
				continue
			}
			return nil, "", err
		}

		wire, err := internal.EncodeRefreshToken(rec.ID, secret)
		if err != nil {
			return nil, "", err
		}

		return rec, wire, nil
	}

	return nil, "", ErrStorageConflict
}

func (e *Engine) consumeWithRetry(
	ctx context.Context,
	id, providedHash, ip string,
) (*token.ConsumeResult, string, [32]byte, error) {
	var zero [32]byte

	for attempt := 0; attempt < 2; attempt++ {
		tid, err := internal.NewTokenID()
		if err != nil {
			return nil, "", zero, err
		}
		secret, err := internal.NewTokenSecret()
		if err != nil {
			return nil, "", zero, err
		}
		newHash := internal.HashTokenSecret(secret)

		res, err := e.store.Consume(
			ctx,
			id,
			providedHash,
			tid.String(),
			hex.EncodeToString(newHash[:]),
			e.config.Token.RefreshTTL,
			e.config.Token.RememberMeTTL,
			ip,
		)
		if errors.Is(err, token.ErrHashConflict) {
			e.metrics.Inc(MetricStorageConflict)
			continue
		}

		return res, tid.String(), secret, err
	}

	return nil, "", zero, token.ErrHashConflict
}

func (e *Engine) rejectRotate(ctx context.Context, id, ip string, res *token.ConsumeResult, kind string) error {
	e.metrics.Inc(MetricRotateFailure)

	event := AuditEvent{
		EventType: auditRotateInvalid,
		TokenID:   id,
		IP:        ip,
		Error:     ErrRefreshInvalid.Error(),
		Metadata:  map[string]string{"kind": kind},
	}
	if res != nil {
		event.UserID = res.UserID
		event.FamilyID = res.FamilyID
	}
	e.emitAudit(ctx, event)

	return ErrRefreshInvalid
}

func (e *Engine) rejectValidate(ctx context.Context, id, ip, kind string) error {
	e.metrics.Inc(MetricValidateFailure)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditValidateFailed,
		TokenID:   id,
		IP:        ip,
		Error:     ErrRefreshInvalid.Error(),
		Metadata:  map[string]string{"kind": kind},
	})
	return ErrRefreshInvalid
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	event.Timestamp = e.clock()
	e.audit.Emit(ctx, event)
}
