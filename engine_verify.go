package membergate

import (
	"context"
	"errors"
)

// ConfirmEmailVerification redeems a verification token and marks the owning
// identity's address as verified. The token is consumed atomically: a second
// confirmation with the same value fails with ErrTokenInvalid regardless of
// how quickly it follows the first.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, tokenValue string) error {
	if e == nil || e.identities == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	identityID, err := e.consumeToken(ctx, tokenValue, PurposeVerify)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyConfirm, false, "", err, nil)
		return err
	}

	if err := e.identities.SetEmailVerified(ctx, identityID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// The token is already spent. Treat the flag write as a store
		// fault so the caller retries via resend rather than replaying
		// the consumed value.
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyConfirm, false, identityID, err, nil)
		return storeFault(err)
	}

	e.metricInc(MetricVerifySuccess)
	e.emitAudit(ctx, auditEventVerifyConfirm, true, identityID, nil, nil)
	return nil
}
