package membergate

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/membergate/membergate/internal/rate"
	"github.com/membergate/membergate/permission"
)

// Register creates a new unverified identity, issues its verification token,
// and dispatches the verification email.
//
// The response shape is constant whether or not the email was already
// registered: the duplicate path performs equivalent work, burns the
// enumeration delay, and returns a decoy identity id. The only externally
// visible difference is which inbox receives mail.
func (e *Engine) Register(ctx context.Context, email, plainPassword string) (RegisterResult, error) {
	if e == nil || e.identities == nil || e.tokens == nil {
		return RegisterResult{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegister, false, "", ErrRegistrationInvalid, func() map[string]string {
			return map[string]string{"reason": "invalid_email"}
		})
		return RegisterResult{}, ErrRegistrationInvalid
	}

	if err := e.checkOriginThrottle(ctx, "register"); err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegister, false, "", err, nil)
		return RegisterResult{}, err
	}

	passwordHash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegister, false, "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{"reason": "password_policy"}
		})
		return RegisterResult{}, ErrPasswordPolicy
	}

	identity := Identity{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  passwordHash,
		EmailVerified: false,
		Role:          permission.RoleUser,
	}

	if err := e.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Same shape and approximate timing as the fresh path; no
			// token is minted and no mail is sent.
			if err := e.sleepEnumerationDelay(ctx); err != nil {
				return RegisterResult{}, err
			}
			e.metricInc(MetricRegisterSuccess)
			e.emitAudit(ctx, auditEventRegister, true, "", nil, func() map[string]string {
				return map[string]string{"enumeration_safe": "true"}
			})
			return RegisterResult{IdentityID: uuid.NewString()}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return RegisterResult{}, err
		}
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegister, false, "", err, nil)
		return RegisterResult{}, storeFault(err)
	}

	value, err := e.issueToken(ctx, identity.ID, PurposeVerify)
	if err != nil {
		// The account exists but has no token; resend will mint one.
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegister, false, identity.ID, err, func() map[string]string {
			return map[string]string{"reason": "token_issue_failed"}
		})
		return RegisterResult{}, err
	}

	e.dispatchEmail(ctx, identity.ID, email, EmailVerification, value)

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, identity.ID, nil, nil)
	return RegisterResult{IdentityID: identity.ID}, nil
}

// checkOriginThrottle gates an operation on the caller's network origin.
// Requests without an origin (internal calls) skip the check.
func (e *Engine) checkOriginThrottle(ctx context.Context, purpose string) error {
	if !e.config.Security.EnableOriginThrottle {
		return nil
	}
	origin := originFromContext(ctx)
	if origin == "" {
		return nil
	}

	decision, err := e.limiter.CheckAndRecord(ctx, rate.OriginKey(purpose, origin))
	if err != nil {
		return storeFault(err)
	}
	if !decision.Allowed {
		return rateLimited(decision.RetryAfter)
	}
	return nil
}

// dispatchEmail hands a token to the email collaborator. Failures are
// logged and audited but deliberately do not unwind token issuance: the
// at-most-one-active-token invariant is already committed, and the user can
// request a resend subject to the rate limit.
func (e *Engine) dispatchEmail(ctx context.Context, identityID, email string, kind EmailKind, tokenValue string) {
	if err := e.emailer.Send(ctx, email, kind, tokenValue); err != nil {
		e.metricInc(MetricEmailDispatchFailure)
		if e.logger != nil {
			e.logger.Warn().Err(err).Str("identity_id", identityID).Msg("email dispatch failed")
		}
		e.emitAudit(ctx, auditEventEmailDispatch, false, identityID, err, nil)
		return
	}
	e.emitAudit(ctx, auditEventEmailDispatch, true, identityID, nil, nil)
}
