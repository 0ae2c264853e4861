package membergate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// its dependencies were wired through the Builder.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrTokenInvalid covers unknown, malformed, already-consumed, and
	// superseded tokens; callers must not learn which.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired marks a token found past its expiry. Distinct from
	// ErrTokenInvalid because the remedy differs (request a new one) and
	// it leaks no account existence.
	ErrTokenExpired = errors.New("token expired")
	// ErrRateLimited marks a throttled attempt. Inspect with
	// [AsRateLimited] to recover the retry-after hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthenticated means no valid session was resolved; the client
	// should sign in rather than escalate.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the authenticated caller lacks permission. It is
	// uniform across role and ownership denials.
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable wraps infrastructure faults. Every security
	// check treats it as a deny.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidCredentials is returned for a failed login; it never
	// distinguishes unknown email from wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountUnverified blocks login until the address is verified.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrRegistrationInvalid is returned for malformed registration input.
	ErrRegistrationInvalid = errors.New("invalid registration request")
	// ErrPasswordPolicy is returned when a password fails the hasher's
	// minimum requirements.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrTokenAttemptsExceeded marks a token retired after repeated
	// mismatched confirmation attempts.
	ErrTokenAttemptsExceeded = errors.New("token confirmation attempts exceeded")
	// ErrIdentityNotFound is returned by internal-facing operations that
	// are not enumeration-sensitive (e.g. role assignment by admin).
	ErrIdentityNotFound = errors.New("identity not found")
)

// RateLimitedError carries the retry-after hint alongside ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Unwrap makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// AsRateLimited extracts the retry-after hint from err, if present.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

func rateLimited(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}

// storeFault wraps an infrastructure error so that
// errors.Is(err, ErrStoreUnavailable) holds while the cause stays
// inspectable.
func storeFault(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
