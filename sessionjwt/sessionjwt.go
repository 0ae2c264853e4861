// Package sessionjwt provides a JWT-backed SessionResolver. The engine only
// needs "who is calling and with which role"; this package answers that from
// an HMAC-signed bearer token carried in the request context.
package sessionjwt

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/membergate/membergate"
	"github.com/membergate/membergate/permission"
)

type contextKey struct{}

// WithBearer attaches a raw bearer token to ctx. HTTP middleware typically
// copies it from the Authorization header.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

func bearerFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextKey{}).(string)
	return token
}

// Claims is the token payload: the registered claims plus the subject's role
// name as the engine's permission model spells it.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Resolver signs and verifies session tokens with a shared HMAC key.
type Resolver struct {
	secret   []byte
	lifetime time.Duration
	clock    membergate.Clock
}

// New returns a Resolver. The secret must be private to the deployment; the
// lifetime bounds how long an issued session stays valid.
func New(secret []byte, lifetime time.Duration, clock membergate.Clock) (*Resolver, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if lifetime <= 0 {
		return nil, errors.New("session lifetime must be positive")
	}
	if clock == nil {
		clock = membergate.SystemClock()
	}
	return &Resolver{secret: secret, lifetime: lifetime, clock: clock}, nil
}

// Issue signs a session token for an authenticated identity, typically right
// after a successful Engine.Login.
func (r *Resolver) Issue(identityID string, role permission.Role) (string, error) {
	now := r.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.lifetime)),
		},
		Role: role.String(),
	})
	return token.SignedString(r.secret)
}

// Resolve implements membergate.SessionResolver. A missing, malformed,
// expired, or forged token yields ErrUnauthenticated; the engine then treats
// the caller as a guest.
func (r *Resolver) Resolve(ctx context.Context) (membergate.Session, error) {
	raw := bearerFromContext(ctx)
	if raw == "" {
		return membergate.Session{}, membergate.ErrUnauthenticated
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.clock.Now))
	if err != nil || !token.Valid {
		return membergate.Session{}, membergate.ErrUnauthenticated
	}
	if claims.Subject == "" {
		return membergate.Session{}, membergate.ErrUnauthenticated
	}

	return membergate.Session{
		IdentityID: claims.Subject,
		Role:       permission.ParseRole(claims.Role),
	}, nil
}
