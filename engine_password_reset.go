package membergate

import (
	"context"
	"errors"
)

// ConfirmPasswordReset redeems a reset token and replaces the identity's
// password hash. The token is consumed before the hash is written, so a
// concurrent duplicate submission cannot apply the change twice.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, tokenValue, newPassword string) error {
	if e == nil || e.identities == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	// Hash first: a policy rejection must not burn the single-use token.
	passwordHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditEventResetConfirm, false, "", ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	identityID, err := e.consumeToken(ctx, tokenValue, PurposeReset)
	if err != nil {
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditEventResetConfirm, false, "", err, nil)
		return err
	}

	if err := e.identities.UpdatePasswordHash(ctx, identityID, passwordHash); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditEventResetConfirm, false, identityID, err, nil)
		return storeFault(err)
	}

	// A password change ends any in-flight verification token and clears
	// the login throttle accumulated against the old credentials. Both are
	// best-effort; failures surface via the sweeper and window expiry.
	_ = e.invalidateToken(ctx, identityID, PurposeVerify)
	if identity, err := e.identities.GetByID(ctx, identityID); err == nil {
		e.resetLoginLimiter(ctx, identity.Email)
	}

	e.metricInc(MetricResetSuccess)
	e.emitAudit(ctx, auditEventResetConfirm, true, identityID, nil, nil)
	return nil
}
