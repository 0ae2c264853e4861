package membergate

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/membergate/membergate/internal/audit"
	"github.com/membergate/membergate/internal/rate"
	"github.com/membergate/membergate/internal/stores"
	"github.com/membergate/membergate/internal/sweep"
	"github.com/membergate/membergate/password"
)

// Engine is the membership security core. Construct it with [Builder.Build];
// all methods are safe for concurrent use afterwards.
type Engine struct {
	config       Config
	identities   IdentityProvider
	tokens       *stores.TokenStore
	limiter      *rate.Limiter
	loginLimiter *rate.Limiter
	hasher       *password.Hasher
	emailer      EmailDispatcher
	sessions     SessionResolver
	owners       OwnershipResolver
	audit        *audit.Dispatcher
	metrics      *Metrics
	sweeper      *sweep.Sweeper
	clock        Clock
	random       RandomSource
	logger       *zerolog.Logger

	// decoyHash is verified against on unknown-identity login attempts so
	// the response latency matches a real verification.
	decoyHash string
}

// Close flushes the audit dispatcher. It does not close the Redis client;
// the caller owns that.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// StartSweeper launches the background cleanup pass, when enabled. It
// returns immediately; the sweeper stops when ctx is cancelled.
func (e *Engine) StartSweeper(ctx context.Context) {
	if e == nil || e.sweeper == nil {
		return
	}
	go e.sweeper.Run(ctx)
}

// MetricsSnapshot copies the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under buffer pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// now is the injected clock, defaulting to wall time.
func (e *Engine) now() time.Time {
	return e.clock.Now()
}

// sleepEnumerationDelay burns a small random delay on paths whose timing
// must not reveal whether an account exists.
func (e *Engine) sleepEnumerationDelay(ctx context.Context) error {
	minMs := e.config.Security.EnumerationDelayMin.Milliseconds()
	maxMs := e.config.Security.EnumerationDelayMax.Milliseconds()
	if maxMs <= 0 {
		return nil
	}

	span := maxMs - minMs + 1
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(minMs+n.Int64()) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// normalizeEmail lowercases and trims an address. Uniqueness is
// case-insensitive throughout.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail applies the engine's minimal shape check; real deliverability
// is proven by the verification token, not by parsing.
func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if len(email) > 254 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}
