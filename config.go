package membergate

import (
	"errors"
	"time"

	"github.com/membergate/membergate/password"
)

// Config groups all Engine tuning parameters. Start from [DefaultConfig]
// and override; Build validates the result.
type Config struct {
	// RedisPrefix namespaces every key the engine writes.
	RedisPrefix string

	Token     TokenConfig
	RateLimit RateLimitConfig
	Login     LoginConfig
	Password  password.Config
	Security  SecurityConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Sweep     SweepConfig
}

// TokenConfig tunes the verification/reset token lifecycle.
type TokenConfig struct {
	// VerifyTTL bounds email-verification tokens.
	VerifyTTL time.Duration
	// ResetTTL bounds password-reset tokens.
	ResetTTL time.Duration
	// MaxConfirmAttempts retires a token after this many mismatched
	// confirmations.
	MaxConfirmAttempts int
}

// TTLFor returns the configured TTL for a purpose.
func (c TokenConfig) TTLFor(p Purpose) time.Duration {
	if p == PurposeReset {
		return c.ResetTTL
	}
	return c.VerifyTTL
}

// RateLimitConfig tunes the throttle applied to resend, reset-request, and
// registration channels.
type RateLimitConfig struct {
	BaseCooldown    time.Duration
	Window          time.Duration
	MaxPerWindow    int
	BlockDuration   time.Duration
	CooldownCap     time.Duration
	MaxBackoffLevel uint8
	InactivityTTL   time.Duration
}

// LoginConfig tunes login attempt limiting.
type LoginConfig struct {
	// RequireVerifiedEmail blocks sign-in until the address is verified.
	RequireVerifiedEmail bool
	// RateLimit overrides the throttle for the login channel; zero values
	// fall back to Config.RateLimit.
	RateLimit RateLimitConfig
}

// SecurityConfig tunes enumeration defenses.
type SecurityConfig struct {
	// EnableOriginThrottle adds the per-origin key to every throttled
	// operation. Disable only behind trusted internal callers.
	EnableOriginThrottle bool
	// EnumerationDelayMin/Max bound the random delay burned on paths that
	// must not reveal account existence through timing.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// SweepConfig tunes the optional background cleanup pass.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

// DefaultConfig returns the policy described in the package documentation:
// 24h tokens, 60s base cooldown, 3 attempts per rolling hour, 1h blocks with
// doubling backoff.
func DefaultConfig() Config {
	rl := RateLimitConfig{
		BaseCooldown:    60 * time.Second,
		Window:          time.Hour,
		MaxPerWindow:    3,
		BlockDuration:   time.Hour,
		CooldownCap:     time.Hour,
		MaxBackoffLevel: 5,
		InactivityTTL:   24 * time.Hour,
	}

	return Config{
		RedisPrefix: "mg",
		Token: TokenConfig{
			VerifyTTL:          24 * time.Hour,
			ResetTTL:           time.Hour,
			MaxConfirmAttempts: 5,
		},
		RateLimit: rl,
		Login: LoginConfig{
			RequireVerifiedEmail: true,
			RateLimit: RateLimitConfig{
				BaseCooldown:    time.Second,
				Window:          15 * time.Minute,
				MaxPerWindow:    5,
				BlockDuration:   15 * time.Minute,
				CooldownCap:     15 * time.Minute,
				MaxBackoffLevel: 4,
				InactivityTTL:   24 * time.Hour,
			},
		},
		Password: password.DefaultConfig(),
		Security: SecurityConfig{
			EnableOriginThrottle: true,
			EnumerationDelayMin:  20 * time.Millisecond,
			EnumerationDelayMax:  40 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
		Sweep: SweepConfig{
			Enabled:  false,
			Interval: 10 * time.Minute,
		},
	}
}

// Validate rejects configurations that would weaken the core invariants.
func (c Config) Validate() error {
	if c.RedisPrefix == "" {
		return errors.New("RedisPrefix must not be empty")
	}
	if c.Token.VerifyTTL <= 0 || c.Token.ResetTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.MaxConfirmAttempts < 1 {
		return errors.New("Token.MaxConfirmAttempts must be >= 1")
	}
	if err := validateRateLimit(c.RateLimit); err != nil {
		return err
	}
	if err := validateRateLimit(c.loginRateLimit()); err != nil {
		return err
	}
	if c.Security.EnumerationDelayMin < 0 ||
		c.Security.EnumerationDelayMax < c.Security.EnumerationDelayMin {
		return errors.New("enumeration delay bounds are inverted")
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return errors.New("Sweep.Interval must be positive when enabled")
	}
	return nil
}

func validateRateLimit(rl RateLimitConfig) error {
	switch {
	case rl.BaseCooldown < time.Second:
		return errors.New("RateLimit.BaseCooldown must be >= 1s")
	case rl.Window < time.Minute:
		return errors.New("RateLimit.Window must be >= 1m")
	case rl.MaxPerWindow < 1:
		return errors.New("RateLimit.MaxPerWindow must be >= 1")
	case rl.BlockDuration < time.Minute:
		return errors.New("RateLimit.BlockDuration must be >= 1m")
	case rl.CooldownCap < rl.BaseCooldown:
		return errors.New("RateLimit.CooldownCap must be >= BaseCooldown")
	case rl.InactivityTTL < rl.Window:
		return errors.New("RateLimit.InactivityTTL must be >= Window")
	}
	return nil
}

// loginRateLimit returns the login throttle, falling back to the general
// policy when unset.
func (c Config) loginRateLimit() RateLimitConfig {
	if c.Login.RateLimit == (RateLimitConfig{}) {
		return c.RateLimit
	}
	return c.Login.RateLimit
}
