package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/membergate/membergate/internal/token"
)

const (
	tokenRecordVersionV1 = 1
	consumeMaxRetries    = 4
)

var (
	// ErrNotFound covers unknown, already-consumed, and superseded tokens
	// alike; callers must not distinguish them.
	ErrNotFound = errors.New("token record not found")
	// ErrExpired marks a token found past its expiry. The record is deleted
	// as a side effect.
	ErrExpired = errors.New("token record expired")
	// ErrSecretMismatch marks a well-formed token whose secret hash did not
	// match the stored record.
	ErrSecretMismatch = errors.New("token secret mismatch")
	// ErrAttemptsExceeded marks a record retired after too many mismatched
	// confirmation attempts.
	ErrAttemptsExceeded = errors.New("token attempts exceeded")
	// ErrUnavailable wraps Redis transport failures. Security checks treat
	// it as a deny.
	ErrUnavailable = errors.New("token store unavailable")
)

// TokenRecord is the persisted shape of one verification token.
type TokenRecord struct {
	IdentityID string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
	Purpose    token.Purpose
}

// TokenStore persists verification tokens and the per-(identity, purpose)
// active-token index that enforces the single-active-token invariant.
type TokenStore struct {
	redis  *redis.Client
	prefix string
}

// NewTokenStore returns a TokenStore writing under the given key prefix.
func NewTokenStore(redisClient *redis.Client, prefix string) *TokenStore {
	return &TokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *TokenStore) recordKey(purpose token.Purpose, id string) string {
	return s.prefix + ":t:" + purpose.String() + ":" + id
}

func (s *TokenStore) indexKey(purpose token.Purpose, identityID string) string {
	return s.prefix + ":i:" + purpose.String() + ":" + identityID
}

// Issue stores a new token record and points the identity's index at it,
// deleting whatever token the index referenced before. After Issue returns,
// exactly one active token exists for (identity, purpose).
func (s *TokenStore) Issue(
	ctx context.Context,
	id token.ID,
	record *TokenRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeTokenRecord(record)
	if err != nil {
		return err
	}

	idxKey := s.indexKey(record.Purpose, record.IdentityID)

	for i := 0; i < consumeMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prevID, err := tx.Get(ctx, idxKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if prevID != "" {
					pipe.Del(ctx, s.recordKey(record.Purpose, prevID))
				}
				pipe.Set(ctx, s.recordKey(record.Purpose, id.String()), encoded, ttl)
				pipe.Set(ctx, idxKey, id.String(), ttl)
				return nil
			})
			return err
		}, idxKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: issue transaction contention", ErrUnavailable)
}

// Consume validates providedHash against the record for id and retires the
// record on success (single use). Expired records are deleted lazily. A
// mismatched secret increments the attempt counter and retires the record at
// maxAttempts. When no record exists, one constant-time compare against a
// zero hash is still performed so the miss costs the same as a mismatch.
func (s *TokenStore) Consume(
	ctx context.Context,
	purpose token.Purpose,
	id token.ID,
	providedHash [32]byte,
	maxAttempts int,
	now time.Time,
) (string, error) {
	key := s.recordKey(purpose, id.String())

	for i := 0; i < consumeMaxRetries; i++ {
		var identityID string

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					var dummy [32]byte
					subtle.ConstantTimeCompare(dummy[:], providedHash[:])
					return ErrNotFound
				}
				return err
			}

			record, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}

			idxKey := s.indexKey(purpose, record.IdentityID)

			if now.Unix() > record.ExpiresAt {
				if err := deleteInTx(ctx, tx, key, idxKey); err != nil {
					return err
				}
				return ErrExpired
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := deleteInTx(ctx, tx, key, idxKey); err != nil {
						return err
					}
					return ErrAttemptsExceeded
				}

				ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
				if ttl <= 0 {
					if err := deleteInTx(ctx, tx, key, idxKey); err != nil {
						return err
					}
					return ErrExpired
				}

				updated, err := encodeTokenRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrSecretMismatch
			}

			if err := deleteInTx(ctx, tx, key, idxKey); err != nil {
				return err
			}

			identityID = record.IdentityID
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound),
				errors.Is(err, ErrExpired),
				errors.Is(err, ErrSecretMismatch),
				errors.Is(err, ErrAttemptsExceeded):
				return "", err
			default:
				return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}

		return identityID, nil
	}

	// Retried out under contention: someone else consumed it.
	return "", ErrNotFound
}

// Invalidate retires the identity's active token, if any. Missing state is
// not an error; revocation is idempotent.
func (s *TokenStore) Invalidate(ctx context.Context, purpose token.Purpose, identityID string) error {
	idxKey := s.indexKey(purpose, identityID)

	id, err := s.redis.Get(ctx, idxKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.redis.Del(ctx, s.recordKey(purpose, id), idxKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ActiveTokenID returns the id the index currently points at, or "" when the
// identity has no active token.
func (s *TokenStore) ActiveTokenID(ctx context.Context, purpose token.Purpose, identityID string) (string, error) {
	id, err := s.redis.Get(ctx, s.indexKey(purpose, identityID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

func deleteInTx(ctx context.Context, tx *redis.Tx, keys ...string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func encodeTokenRecord(record *TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)
	buf.WriteByte(byte(record.Purpose))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.IdentityID) > 65535 {
		return nil, errors.New("token record identity id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &TokenRecord{
		Purpose: token.Purpose(purpose),
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}

	identityID := make([]byte, idLen)
	if _, err := io.ReadFull(reader, identityID); err != nil {
		return nil, err
	}
	record.IdentityID = string(identityID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
