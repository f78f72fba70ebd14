package refreshguard

import (
	"context"
	"errors"

	"github.com/keyfold/refreshguard/token"
)

// enforceSessionLimit makes room for one new token under the per-user cap
// by revoking the oldest active tokens. ListActiveForUser orders by
// creation time ascending with ties broken by ID, so eviction is
// deterministic under concurrent issuance.
func (e *Engine) enforceSessionLimit(ctx context.Context, userID, ip string) error {
	max := e.config.SessionLimit.MaxActivePerUser
	if max <= 0 {
		return nil
	}

	records, err := e.store.ListActiveForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(records) < max {
		return nil
	}

	evict := len(records) - max + 1
	for _, rec := range records[:evict] {
		err := e.store.Revoke(ctx, rec.ID, userID, token.ReasonEvicted)
		if err != nil {
			// A concurrent rotation or revoke already retired it; the
			// slot is free either way.
			if errors.Is(err, token.ErrAlreadyInactive) || errors.Is(err, token.ErrRecordNotFound) {
				continue
			}
			return err
		}

		e.metrics.Inc(MetricSessionEvicted)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditSessionEvicted,
			UserID:    userID,
			TokenID:   rec.ID,
			FamilyID:  rec.FamilyID,
			IP:        ip,
			Success:   true,
		})
	}

	return nil
}
