package membergate

import (
	"context"
	"errors"

	"github.com/membergate/membergate/internal/rate"
)

// RequestResend re-issues the verification token for an email address and
// dispatches it, subject to the resend rate limit.
//
// The limiter is keyed by the submitted address, not by an identity id, so
// unknown and already-verified addresses consume quota exactly like real
// unverified ones. Combined with the enumeration delay, the response is
// indistinguishable across all three cases.
func (e *Engine) RequestResend(ctx context.Context, email string) (ResendResult, error) {
	if e == nil || e.identities == nil || e.tokens == nil {
		return ResendResult{}, ErrEngineNotReady
	}
	return e.requestTokenEmail(ctx, email, PurposeVerify, EmailVerification, auditEventResendRequest)
}

// RequestPasswordReset issues a password reset token for an email address and
// dispatches it. It shares the resend limiter policy and the same
// enumeration-safety contract as RequestResend.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (ResendResult, error) {
	if e == nil || e.identities == nil || e.tokens == nil {
		return ResendResult{}, ErrEngineNotReady
	}
	e.metricInc(MetricResetRequest)
	return e.requestTokenEmail(ctx, email, PurposeReset, EmailPasswordReset, auditEventResetRequest)
}

func (e *Engine) requestTokenEmail(ctx context.Context, email string, purpose Purpose, kind EmailKind, eventType string) (ResendResult, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		// Malformed input is rejected before any limiter state is
		// touched; it carries no enumeration signal.
		e.emitAudit(ctx, eventType, false, "", ErrRegistrationInvalid, nil)
		return ResendResult{}, ErrRegistrationInvalid
	}

	channel := purpose.String()
	if err := e.checkOriginThrottle(ctx, channel); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricResendRateLimited)
		}
		e.emitAudit(ctx, eventType, false, "", err, nil)
		return ResendResult{}, err
	}

	decision, err := e.limiter.CheckAndRecord(ctx, rate.IdentityKey(channel, email))
	if err != nil {
		e.emitAudit(ctx, eventType, false, "", err, nil)
		return ResendResult{}, storeFault(err)
	}
	if !decision.Allowed {
		e.metricInc(MetricResendRateLimited)
		e.emitAudit(ctx, eventType, false, "", ErrRateLimited, func() map[string]string {
			return map[string]string{"retry_after": decision.RetryAfter.String()}
		})
		return ResendResult{}, rateLimited(decision.RetryAfter)
	}

	result := ResendResult{
		CooldownSeconds:  int(decision.NextCooldown.Seconds()),
		RetriesRemaining: decision.Remaining,
	}

	identity, err := e.identities.GetByEmail(ctx, email)
	switch {
	case err != nil && errors.Is(err, ErrIdentityNotFound):
		// Quota was consumed above; fall through to the decoy path.
	case err != nil:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ResendResult{}, err
		}
		e.emitAudit(ctx, eventType, false, "", err, nil)
		return ResendResult{}, storeFault(err)
	case purpose == PurposeVerify && identity.EmailVerified:
		// Verified accounts get the decoy path too: a real token here
		// would be a verified-status oracle.
	default:
		value, err := e.issueToken(ctx, identity.ID, purpose)
		if err != nil {
			e.emitAudit(ctx, eventType, false, identity.ID, err, nil)
			return ResendResult{}, err
		}
		e.dispatchEmail(ctx, identity.ID, email, kind, value)
		e.metricInc(MetricResendSuccess)
		e.emitAudit(ctx, eventType, true, identity.ID, nil, nil)
		return result, nil
	}

	if err := e.sleepEnumerationDelay(ctx); err != nil {
		return ResendResult{}, err
	}
	e.metricInc(MetricResendSuccess)
	e.emitAudit(ctx, eventType, true, "", nil, func() map[string]string {
		return map[string]string{"enumeration_safe": "true"}
	})
	return result, nil
}
