package refreshguard

import (
	"context"
	"time"

	"github.com/keyfold/refreshguard/token"
)

// ActiveTokenCount returns the number of active refresh tokens a user
// currently holds.
func (e *Engine) ActiveTokenCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrIdentityInvalid
	}
	return e.store.CountActive(ctx, userID)
}

// ListActiveTokens returns diagnostic views of a user's active refresh
// tokens, oldest first. Hashes and secrets are never included.
func (e *Engine) ListActiveTokens(ctx context.Context, userID string) ([]TokenInfo, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrIdentityInvalid
	}

	records, err := e.store.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]TokenInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, *tokenInfoFromRecord(rec))
	}

	return infos, nil
}

// Health checks Redis availability and returns the observed round-trip
// latency.
func (e *Engine) Health(ctx context.Context) (time.Duration, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	return e.store.Ping(ctx)
}

func tokenInfoFromRecord(rec *token.Record) *TokenInfo {
	return &TokenInfo{
		ID:          rec.ID,
		UserID:      rec.UserID,
		FamilyID:    rec.FamilyID,
		ParentID:    rec.ParentID,
		CreatedAt:   time.Unix(rec.CreatedAt, 0),
		ExpiresAt:   time.Unix(rec.ExpiresAt, 0),
		RememberMe:  rec.RememberMe,
		CreatedByIP: rec.CreatedByIP,
	}
}
