package rate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordVersionV1 = 1
	casMaxRetries   = 4
)

var (
	// ErrUnavailable wraps Redis transport failures. Callers must treat it
	// as a deny; the throttle never fails open.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Clock abstracts time for deterministic tests. The root package's Clock
// satisfies it structurally.
type Clock interface {
	Now() time.Time
}

// Config holds throttle tuning parameters. Durations below one second are
// rounded down; state is tracked at second granularity.
type Config struct {
	// BaseCooldown is the minimum gap between consecutive attempts at
	// backoff level zero.
	BaseCooldown time.Duration
	// Window is the rolling window the attempt budget applies to.
	Window time.Duration
	// MaxPerWindow is the number of attempts allowed inside one window;
	// attempt MaxPerWindow+1 triggers a block.
	MaxPerWindow int
	// BlockDuration is how long a triggered block lasts.
	BlockDuration time.Duration
	// CooldownCap bounds the escalated cooldown.
	CooldownCap time.Duration
	// MaxBackoffLevel bounds the escalation exponent.
	MaxBackoffLevel uint8
	// InactivityTTL is how long an untouched record survives in Redis.
	InactivityTTL time.Duration
}

// Decision is the outcome of one CheckAndRecord call.
type Decision struct {
	// Allowed reports whether the attempt may proceed.
	Allowed bool
	// RetryAfter is how long the caller must wait, set only when denied.
	RetryAfter time.Duration
	// NextCooldown is the gap required before the following attempt, set
	// only when allowed.
	NextCooldown time.Duration
	// Remaining is the attempt budget left in the current window, set only
	// when allowed.
	Remaining int
}

type record struct {
	Count        uint16
	BackoffLevel uint8
	WindowStart  int64
	LastAttempt  int64
	BlockedUntil int64
}

// Limiter enforces the throttle policy against Redis-backed state.
type Limiter struct {
	redis  *redis.Client
	prefix string
	config Config
	clock  Clock
}

// New creates a Limiter writing under the given key prefix.
func New(redisClient *redis.Client, prefix string, cfg Config, clock Clock) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
		clock:  clock,
	}
}

// IdentityKey builds the subject key for a per-identity channel.
func IdentityKey(purpose, identityID string) string {
	return "id:" + purpose + ":" + identityID
}

// OriginKey builds the subject key for a per-network-origin channel.
func OriginKey(purpose, origin string) string {
	return "or:" + purpose + ":" + origin
}

func (l *Limiter) storageKey(subjectKey string) string {
	return l.prefix + ":" + subjectKey
}

// CheckAndRecord evaluates and, when allowed, records one attempt for
// subjectKey. The read-modify-write runs inside a WATCH transaction and
// retries on contention, so two concurrent calls can never both pass a check
// that should admit one. Denied attempts never consume window budget.
func (l *Limiter) CheckAndRecord(ctx context.Context, subjectKey string) (Decision, error) {
	key := l.storageKey(subjectKey)

	for i := 0; i < casMaxRetries; i++ {
		var decision Decision

		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec := &record{}

			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				if rec, err = decodeRecord(data); err != nil {
					return err
				}
			case errors.Is(err, redis.Nil):
				// first attempt on this channel
			default:
				return err
			}

			now := l.clock.Now().Unix()
			decision = l.evaluate(rec, now)
			if !decision.Allowed && rec.BlockedUntil <= now {
				// Denied inside a cooldown: nothing to persist.
				return nil
			}

			encoded, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, l.config.InactivityTTL)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return decision, nil
	}

	// Contention exhausted the retry budget; deny rather than guess.
	return Decision{Allowed: false, RetryAfter: l.config.BaseCooldown}, nil
}

// evaluate applies the policy to rec at unix-seconds instant now, mutating
// rec in place when the attempt is consumed or a block is placed.
func (l *Limiter) evaluate(rec *record, now int64) Decision {
	windowSec := int64(l.config.Window / time.Second)

	// An active block overrides everything, including window resets.
	// Attempts made while blocked still refresh LastAttempt, so hammering
	// through a block postpones the backoff-level reset.
	if rec.BlockedUntil > now {
		rec.LastAttempt = now
		return Decision{RetryAfter: time.Duration(rec.BlockedUntil-now) * time.Second}
	}

	switch {
	case rec.Count > 0 && now-rec.LastAttempt > windowSec:
		// Full window with zero attempts: the channel cooled down.
		rec.Count = 0
		rec.WindowStart = now
		rec.BackoffLevel = 0
	case rec.Count > 0 && now-rec.WindowStart >= windowSec:
		// Window rolled over but the channel stayed active; the
		// escalation level is kept.
		rec.Count = 0
		rec.WindowStart = now
	}

	if rec.Count > 0 {
		required := l.cooldownFor(rec.BackoffLevel, rec.Count)
		elapsed := time.Duration(now-rec.LastAttempt) * time.Second
		if elapsed < required {
			return Decision{RetryAfter: required - elapsed}
		}
	}

	if int(rec.Count)+1 > l.config.MaxPerWindow {
		if rec.BackoffLevel < l.config.MaxBackoffLevel {
			rec.BackoffLevel++
		}
		rec.BlockedUntil = now + int64(l.config.BlockDuration/time.Second)
		rec.LastAttempt = now
		return Decision{RetryAfter: l.config.BlockDuration}
	}

	if rec.Count == 0 {
		rec.WindowStart = now
	}
	rec.Count++
	rec.LastAttempt = now

	return Decision{
		Allowed:      true,
		NextCooldown: l.cooldownFor(rec.BackoffLevel, rec.Count),
		Remaining:    l.config.MaxPerWindow - int(rec.Count),
	}
}

// cooldownFor returns the gap required after the count-th attempt of a
// window at the given escalation level: base << level << (count-1), capped.
func (l *Limiter) cooldownFor(level uint8, count uint16) time.Duration {
	cd := l.config.BaseCooldown
	shift := uint(level)
	if count > 0 {
		shift += uint(count - 1)
	}
	for i := uint(0); i < shift; i++ {
		cd *= 2
		if cd >= l.config.CooldownCap {
			return l.config.CooldownCap
		}
	}
	if cd > l.config.CooldownCap {
		return l.config.CooldownCap
	}
	return cd
}

// Reset clears all throttle state for subjectKey. Used administratively and
// on success events (e.g. a completed login clears that identity's
// login-attempt channel).
func (l *Limiter) Reset(ctx context.Context, subjectKey string) error {
	if err := l.redis.Del(ctx, l.storageKey(subjectKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func encodeRecord(rec *record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, rec.Count); err != nil {
		return nil, err
	}
	buf.WriteByte(rec.BackoffLevel)
	for _, v := range []int64{rec.WindowStart, rec.LastAttempt, rec.BlockedUntil} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid rate record version")
	}

	rec := &record{}
	if err := binary.Read(reader, binary.BigEndian, &rec.Count); err != nil {
		return nil, err
	}
	if rec.BackoffLevel, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	for _, dst := range []*int64{&rec.WindowStart, &rec.LastAttempt, &rec.BlockedUntil} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}

	return rec, nil
}
