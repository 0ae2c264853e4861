// Package token defines the wire format of membergate verification tokens:
// a 16-byte token ID concatenated with a 32-byte secret, base64url encoded
// without padding. 384 random bits per token; only the sha256 of the secret
// is ever persisted.
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	idSize     = 16
	secretSize = 32
	rawSize    = idSize + secretSize
)

// RandomSource supplies cryptographically secure random bytes. The root
// package's RandomSource satisfies it structurally.
type RandomSource interface {
	RandomBytes(n int) ([]byte, error)
}

// Purpose distinguishes the two token flows. The byte value is persisted
// inside token records; do not renumber.
type Purpose uint8

const (
	// PurposeVerify proves control of the address behind a new account.
	PurposeVerify Purpose = 1
	// PurposeReset proves control of the address for a password reset.
	PurposeReset Purpose = 2
)

// String returns the purpose's key-segment label.
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

// ID is the public half of a token; it keys the stored record.
type ID [idSize]byte

// String returns the base64url form used in record keys.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes a key-form token ID.
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != idSize {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}

// Secret is the private half of a token. It never touches the store; records
// hold only HashSecret(secret).
type Secret [secretSize]byte

// New draws a fresh (ID, Secret) pair from rs.
func New(rs RandomSource) (ID, Secret, error) {
	var (
		id     ID
		secret Secret
	)

	raw, err := rs.RandomBytes(rawSize)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != rawSize {
		return id, secret, errors.New("random source returned short read")
	}

	copy(id[:], raw[:idSize])
	copy(secret[:], raw[idSize:])
	return id, secret, nil
}

// HashSecret returns the sha256 digest stored in place of the secret.
func HashSecret(secret Secret) [32]byte {
	return sha256.Sum256(secret[:])
}

// Encode produces the opaque token value handed to the user.
func Encode(id ID, secret Secret) string {
	var raw [rawSize]byte
	copy(raw[:idSize], id[:])
	copy(raw[idSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// Decode splits an opaque token value back into its ID and secret. Any
// malformed input yields an error; callers treat that the same as an unknown
// token.
func Decode(value string) (ID, Secret, error) {
	var (
		id     ID
		secret Secret
	)

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != rawSize {
		return id, secret, errors.New("invalid token size")
	}

	copy(id[:], raw[:idSize])
	copy(secret[:], raw[idSize:])
	return id, secret, nil
}
