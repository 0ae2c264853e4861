package membergate

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/membergate/membergate/permission"
)

// Purpose selects which token flow an operation belongs to.
type Purpose uint8

const (
	// PurposeVerify proves control of the address behind a new account.
	PurposeVerify Purpose = 1
	// PurposeReset proves control of the address for a password reset.
	PurposeReset Purpose = 2
)

// String returns "verify" or "reset".
func (p Purpose) String() string {
	switch p {
	case PurposeVerify:
		return "verify"
	case PurposeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a defined purpose.
func (p Purpose) Valid() bool {
	return p == PurposeVerify || p == PurposeReset
}

// Identity is the engine's view of one account. The host application owns
// the authoritative record; membergate reads and writes only these fields.
type Identity struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	Role          permission.Role
}

// ErrEmailTaken is returned by IdentityProvider.Create when the email is
// already registered. The engine translates it into an enumeration-safe
// response; it never reaches API callers.
var ErrEmailTaken = errors.New("email already registered")

// IdentityProvider is the host application's user database adapter. Lookups
// by email must be case-insensitive; the engine always passes lowercased
// addresses. Not-found lookups return [ErrIdentityNotFound].
type IdentityProvider interface {
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	Create(ctx context.Context, identity Identity) error
	SetEmailVerified(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	UpdateRole(ctx context.Context, id string, role permission.Role) error
}

// EmailKind selects the template the dispatcher renders.
type EmailKind uint8

const (
	// EmailVerification carries a fresh verification token.
	EmailVerification EmailKind = iota
	// EmailPasswordReset carries a fresh reset token.
	EmailPasswordReset
)

// EmailDispatcher delivers a token-bearing email. Delivery is best-effort:
// the engine logs and audits a failure but the issued token stands, and the
// user can request another send subject to the rate limit.
type EmailDispatcher interface {
	Send(ctx context.Context, toAddress string, kind EmailKind, tokenValue string) error
}

// Session is the resolved caller of a guarded request.
type Session struct {
	IdentityID string
	Role       permission.Role
}

// SessionResolver turns ambient request credentials (cookie, bearer token)
// into a Session. Resolution failures return [ErrUnauthenticated]; the
// engine then evaluates the caller as a guest.
type SessionResolver interface {
	Resolve(ctx context.Context) (Session, error)
}

// ResourceKind names the resource classes ownership checks understand.
type ResourceKind uint8

const (
	// ResourcePost is a bulletin-board post.
	ResourcePost ResourceKind = iota
	// ResourceComment is a comment on a post.
	ResourceComment
	// ResourceIdentity is an account (role changes, admin operations).
	ResourceIdentity
)

// ResourceRef identifies one resource for an ownership-scoped decision.
type ResourceRef struct {
	Kind ResourceKind
	ID   string
}

// OwnershipResolver reports which identity owns a resource. A failed lookup
// must return an error; the engine fails closed on it.
type OwnershipResolver interface {
	OwnerOf(ctx context.Context, resource ResourceRef) (string, error)
}

// Clock abstracts current time so expiry and backoff are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock Clock used by default.
func SystemClock() Clock { return systemClock{} }

// RandomSource supplies cryptographically secure random bytes.
type RandomSource interface {
	RandomBytes(n int) ([]byte, error)
}

type cryptoRandom struct{}

func (cryptoRandom) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// CryptoRandom returns the crypto/rand-backed RandomSource used by default.
func CryptoRandom() RandomSource { return cryptoRandom{} }

// RegisterResult is returned by [Engine.Register]. Its shape is identical
// whether or not the email was already registered.
type RegisterResult struct {
	// IdentityID is the new account's id, or a decoy on the duplicate
	// path. Treat it as opaque.
	IdentityID string
}

// ResendResult is returned by [Engine.RequestResend] so the caller can show
// the user their remaining budget without another round trip. The shape is
// identical whether or not the email maps to an account.
type ResendResult struct {
	// CooldownSeconds is the wait required before the next resend.
	CooldownSeconds int
	// RetriesRemaining is the resend budget left in the current window.
	RetriesRemaining int
}

// LoginResult is returned by [Engine.Login]. Session issuance (cookies,
// tokens) is the host application's job.
type LoginResult struct {
	IdentityID string
	Role       permission.Role
	// PasswordNeedsRehash indicates the stored hash used weaker parameters
	// than currently configured; the host may trigger a rehash.
	PasswordNeedsRehash bool
}
