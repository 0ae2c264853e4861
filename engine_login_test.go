package membergate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/membergate/membergate/password"
	"github.com/membergate/membergate/permission"
)

func TestLoginSuccess(t *testing.T) {
	h := newTestEngine(t, testConfig())
	seeded := h.seedUser(t, "alice@example.com", "a long password", true, permission.RoleModerator)

	result, err := h.engine.Login(context.Background(), "Alice@Example.com", "a long password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.IdentityID != seeded.ID {
		t.Fatalf("identity id = %q, want %q", result.IdentityID, seeded.ID)
	}
	if result.Role != permission.RoleModerator {
		t.Fatalf("role = %v, want moderator", result.Role)
	}
	if result.PasswordNeedsRehash {
		t.Fatal("fresh hash must not need rehash")
	}
}

func TestLoginUniformFailures(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.seedUser(t, "alice@example.com", "a long password", true, permission.RoleUser)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "not the password"},
		{"unknown email", "ghost@example.com", "a long password"},
		{"malformed email", "not-an-email", "a long password"},
	}
	for _, tc := range cases {
		h.clock.Advance(time.Minute)
		if _, err := h.engine.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: Login = %v, want ErrInvalidCredentials", tc.name, err)
		}
	}
}

func TestLoginBlocksUnverifiedAccount(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.seedUser(t, "alice@example.com", "a long password", false, permission.RoleUser)

	if _, err := h.engine.Login(context.Background(), "alice@example.com", "a long password"); !errors.Is(err, ErrAccountUnverified) {
		t.Fatalf("Login = %v, want ErrAccountUnverified", err)
	}

	cfg := testConfig()
	cfg.Login.RequireVerifiedEmail = false
	h2 := newTestEngine(t, cfg)
	h2.seedUser(t, "alice@example.com", "a long password", false, permission.RoleUser)
	if _, err := h2.engine.Login(context.Background(), "alice@example.com", "a long password"); err != nil {
		t.Fatalf("Login with verification optional failed: %v", err)
	}
}

func TestLoginAttemptsBlockAfterBudget(t *testing.T) {
	cfg := testConfig()
	h := newTestEngine(t, cfg)
	h.seedUser(t, "alice@example.com", "a long password", true, permission.RoleUser)
	ctx := context.Background()

	// Five failed attempts, each waiting out its own cooldown.
	for i := 0; i < cfg.Login.RateLimit.MaxPerWindow; i++ {
		if _, err := h.engine.Login(ctx, "alice@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d = %v, want ErrInvalidCredentials", i+1, err)
		}
		h.clock.Advance(cfg.Login.RateLimit.BaseCooldown << uint(i))
	}

	_, err := h.engine.Login(ctx, "alice@example.com", "wrong password")
	rl, ok := AsRateLimited(err)
	if !ok {
		t.Fatalf("over-budget attempt = %v, want rate limited", err)
	}
	if rl.RetryAfter != cfg.Login.RateLimit.BlockDuration {
		t.Fatalf("retry-after = %s, want %s", rl.RetryAfter, cfg.Login.RateLimit.BlockDuration)
	}

	// The block holds even with valid credentials.
	if _, err := h.engine.Login(ctx, "alice@example.com", "a long password"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("blocked login with correct password = %v, want ErrRateLimited", err)
	}
}

func TestLoginSuccessResetsThrottle(t *testing.T) {
	cfg := testConfig()
	h := newTestEngine(t, cfg)
	h.seedUser(t, "alice@example.com", "a long password", true, permission.RoleUser)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.engine.Login(ctx, "alice@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d = %v, want ErrInvalidCredentials", i+1, err)
		}
		h.clock.Advance(cfg.Login.RateLimit.BaseCooldown << uint(i))
	}

	if _, err := h.engine.Login(ctx, "alice@example.com", "a long password"); err != nil {
		t.Fatalf("correct login after failures: %v", err)
	}

	// The throttle state is gone; the next attempt starts a fresh window
	// rather than continuing toward the block.
	if _, err := h.engine.Login(ctx, "alice@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("post-reset attempt = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginReportsRehashForWeakStoredHash(t *testing.T) {
	h := newTestEngine(t, testConfig())

	strong, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	hash, err := strong.Hash("a long password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h.provider.add(Identity{
		ID:            "user-legacy",
		Email:         "legacy@example.com",
		PasswordHash:  hash,
		EmailVerified: true,
		Role:          permission.RoleUser,
	})

	result, err := h.engine.Login(context.Background(), "legacy@example.com", "a long password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.PasswordNeedsRehash {
		t.Fatal("mismatched hash parameters must flag a rehash")
	}
}

func TestLoginFailsClosedOnStoreOutage(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.seedUser(t, "alice@example.com", "a long password", true, permission.RoleUser)

	h.redis.Close()

	if _, err := h.engine.Login(context.Background(), "alice@example.com", "a long password"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("outage = %v, want ErrStoreUnavailable", err)
	}
}
