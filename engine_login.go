package membergate

import (
	"context"
	"errors"

	"github.com/membergate/membergate/internal/rate"
)

const loginChannel = "login"

// Login authenticates an email/password pair. Failures are uniform: an
// unknown address costs a verification against a decoy hash so its timing
// matches a wrong password, and both return ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, plainPassword string) (LoginResult, error) {
	if e == nil || e.identities == nil {
		return LoginResult{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		e.metricInc(MetricLoginFailure)
		return LoginResult{}, ErrInvalidCredentials
	}

	identityKey := rate.IdentityKey(loginChannel, email)
	if err := e.checkLoginThrottle(ctx, identityKey); err != nil {
		e.emitAudit(ctx, auditEventLogin, false, "", err, nil)
		return LoginResult{}, err
	}

	identity, err := e.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Burn the same argon2 work a real mismatch would.
			_, _ = e.hasher.Verify(plainPassword, e.decoyHash)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLogin, false, "", ErrInvalidCredentials, nil)
			return LoginResult{}, ErrInvalidCredentials
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LoginResult{}, err
		}
		e.emitAudit(ctx, auditEventLogin, false, "", err, nil)
		return LoginResult{}, storeFault(err)
	}

	ok, err := e.hasher.Verify(plainPassword, identity.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLogin, false, identity.ID, ErrInvalidCredentials, nil)
		return LoginResult{}, ErrInvalidCredentials
	}

	if e.config.Login.RequireVerifiedEmail && !identity.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLogin, false, identity.ID, ErrAccountUnverified, nil)
		return LoginResult{}, ErrAccountUnverified
	}

	// A successful login clears the accumulated throttle for this address
	// and origin so a legitimate user is not penalized for earlier typos.
	e.resetLoginLimiter(ctx, email)

	needsRehash, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil {
		needsRehash = false
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLogin, true, identity.ID, nil, nil)
	return LoginResult{
		IdentityID:          identity.ID,
		Role:                identity.Role,
		PasswordNeedsRehash: needsRehash,
	}, nil
}

// checkLoginThrottle applies the login limiter to the identity key and, when
// origin throttling is on, to the caller's origin key.
func (e *Engine) checkLoginThrottle(ctx context.Context, identityKey string) error {
	decision, err := e.loginLimiter.CheckAndRecord(ctx, identityKey)
	if err != nil {
		return storeFault(err)
	}
	if !decision.Allowed {
		e.metricInc(MetricLoginRateLimited)
		return rateLimited(decision.RetryAfter)
	}

	if e.config.Security.EnableOriginThrottle {
		if origin := originFromContext(ctx); origin != "" {
			decision, err := e.loginLimiter.CheckAndRecord(ctx, rate.OriginKey(loginChannel, origin))
			if err != nil {
				return storeFault(err)
			}
			if !decision.Allowed {
				e.metricInc(MetricLoginRateLimited)
				return rateLimited(decision.RetryAfter)
			}
		}
	}
	return nil
}

// resetLoginLimiter drops the login throttle state for an address and, when
// present, the caller's origin. Best-effort: an unavailable store only means
// the state decays on its own schedule.
func (e *Engine) resetLoginLimiter(ctx context.Context, subject string) {
	if err := e.loginLimiter.Reset(ctx, rate.IdentityKey(loginChannel, subject)); err != nil && e.logger != nil {
		e.logger.Warn().Err(err).Msg("login limiter reset failed")
	}
	if origin := originFromContext(ctx); origin != "" {
		if err := e.loginLimiter.Reset(ctx, rate.OriginKey(loginChannel, origin)); err != nil && e.logger != nil {
			e.logger.Warn().Err(err).Msg("login limiter reset failed")
		}
	}
}
