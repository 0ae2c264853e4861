package membergate

import (
	"context"
	"errors"
	"fmt"

	"github.com/membergate/membergate/internal/stores"
	"github.com/membergate/membergate/internal/token"
)

// issueToken mints a fresh token for (identity, purpose), superseding any
// active one, and returns the raw value for email delivery. The raw value is
// never stored or logged.
func (e *Engine) issueToken(ctx context.Context, identityID string, purpose Purpose) (string, error) {
	id, secret, err := token.New(e.random)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ttl := e.config.Token.TTLFor(purpose)
	record := &stores.TokenRecord{
		IdentityID: identityID,
		SecretHash: token.HashSecret(secret),
		ExpiresAt:  e.now().Add(ttl).Unix(),
		Purpose:    token.Purpose(purpose),
	}

	if err := e.tokens.Issue(ctx, id, record, ttl); err != nil {
		return "", mapTokenStoreError(err)
	}

	return token.Encode(id, secret), nil
}

// consumeToken validates and retires a raw token value, returning the owning
// identity. Store sentinels are mapped to the public taxonomy here; callers
// see only ErrTokenInvalid / ErrTokenExpired / ErrTokenAttemptsExceeded /
// ErrStoreUnavailable.
func (e *Engine) consumeToken(ctx context.Context, value string, purpose Purpose) (string, error) {
	id, secret, err := token.Decode(value)
	if err != nil {
		// Malformed input is indistinguishable from an unknown token.
		return "", ErrTokenInvalid
	}

	identityID, err := e.tokens.Consume(
		ctx,
		token.Purpose(purpose),
		id,
		token.HashSecret(secret),
		e.config.Token.MaxConfirmAttempts,
		e.now(),
	)
	if err != nil {
		return "", mapTokenStoreError(err)
	}

	return identityID, nil
}

// invalidateToken revokes the identity's active token for purpose, if any.
func (e *Engine) invalidateToken(ctx context.Context, identityID string, purpose Purpose) error {
	if err := e.tokens.Invalidate(ctx, token.Purpose(purpose), identityID); err != nil {
		return mapTokenStoreError(err)
	}
	return nil
}

func mapTokenStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrNotFound), errors.Is(err, stores.ErrSecretMismatch):
		return ErrTokenInvalid
	case errors.Is(err, stores.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, stores.ErrAttemptsExceeded):
		return ErrTokenAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
