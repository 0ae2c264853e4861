package membergate

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/membergate/membergate/internal/audit"
	"github.com/membergate/membergate/internal/rate"
	"github.com/membergate/membergate/internal/stores"
	"github.com/membergate/membergate/internal/sweep"
	"github.com/membergate/membergate/password"
)

// Builder wires an [Engine]. Required: Redis client, IdentityProvider, and
// EmailDispatcher. Everything else has working defaults.
type Builder struct {
	config Config

	redis      *redis.Client
	identities IdentityProvider
	emailer    EmailDispatcher
	sessions   SessionResolver
	owners     OwnershipResolver
	auditSink  AuditSink
	clock      Clock
	random     RandomSource
	logger     *zerolog.Logger

	built bool
}

// New starts a Builder with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing tokens and throttle state.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the host application's user database adapter.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identities = p
	return b
}

// WithEmailDispatcher sets the outgoing email collaborator.
func (b *Builder) WithEmailDispatcher(d EmailDispatcher) *Builder {
	b.emailer = d
	return b
}

// WithSessionResolver sets the session collaborator used by Authorize.
// Without one, every caller is evaluated as a guest.
func (b *Builder) WithSessionResolver(r SessionResolver) *Builder {
	b.sessions = r
	return b
}

// WithOwnershipResolver sets the resource-ownership collaborator used by
// owner-scoped authorization.
func (b *Builder) WithOwnershipResolver(r OwnershipResolver) *Builder {
	b.owners = r
	return b
}

// WithAuditSink sets the audit event receiver.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock injects a clock; tests use this for deterministic expiry.
func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithRandomSource injects an entropy source.
func (b *Builder) WithRandomSource(rs RandomSource) *Builder {
	b.random = rs
	return b
}

// WithLogger sets the structured logger used for best-effort failures
// (email dispatch, sweep errors). Audit stays separate.
func (b *Builder) WithLogger(logger *zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and assembles the Engine. A Builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity provider required")
	}
	if b.emailer == nil {
		return nil, errors.New("email dispatcher required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}
	random := b.random
	if random == nil {
		random = CryptoRandom()
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	// A fixed random password hashed once at startup; login verifies
	// against it when the email is unknown so both paths cost the same.
	decoy, err := random.RandomBytes(24)
	if err != nil {
		return nil, err
	}
	decoyHash, err := hasher.Hash(encodeDecoy(decoy))
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		identities: b.identities,
		emailer:    b.emailer,
		sessions:   b.sessions,
		owners:     b.owners,
		clock:      clock,
		random:     random,
		logger:     b.logger,
		hasher:     hasher,
		decoyHash:  decoyHash,
	}

	engine.tokens = stores.NewTokenStore(b.redis, cfg.RedisPrefix)
	engine.limiter = rate.New(b.redis, cfg.RedisPrefix+":rl", rate.Config{
		BaseCooldown:    cfg.RateLimit.BaseCooldown,
		Window:          cfg.RateLimit.Window,
		MaxPerWindow:    cfg.RateLimit.MaxPerWindow,
		BlockDuration:   cfg.RateLimit.BlockDuration,
		CooldownCap:     cfg.RateLimit.CooldownCap,
		MaxBackoffLevel: cfg.RateLimit.MaxBackoffLevel,
		InactivityTTL:   cfg.RateLimit.InactivityTTL,
	}, clock)

	loginRL := cfg.loginRateLimit()
	engine.loginLimiter = rate.New(b.redis, cfg.RedisPrefix+":rl", rate.Config{
		BaseCooldown:    loginRL.BaseCooldown,
		Window:          loginRL.Window,
		MaxPerWindow:    loginRL.MaxPerWindow,
		BlockDuration:   loginRL.BlockDuration,
		CooldownCap:     loginRL.CooldownCap,
		MaxBackoffLevel: loginRL.MaxBackoffLevel,
		InactivityTTL:   loginRL.InactivityTTL,
	}, clock)

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	if cfg.Sweep.Enabled {
		engine.sweeper = sweep.New(b.redis, cfg.RedisPrefix, cfg.Sweep.Interval, b.logger)
	}

	b.built = true
	return engine, nil
}

// encodeDecoy widens random bytes into a printable password accepted by the
// hasher's length floor.
func encodeDecoy(raw []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(raw)*2)
	for _, b := range raw {
		out = append(out, hexdigits[b>>4], hexdigits[b&0x0f])
	}
	return string(out)
}
