package membergate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/membergate/membergate/password"
	"github.com/membergate/membergate/permission"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockIdentityProvider struct {
	mu      sync.Mutex
	byID    map[string]Identity
	byEmail map[string]string

	failWith error

	createCalls      int
	setVerifiedCalls int
	updateHashCalls  int
	updateRoleCalls  int
}

func newMockIdentityProvider() *mockIdentityProvider {
	return &mockIdentityProvider{
		byID:    make(map[string]Identity),
		byEmail: make(map[string]string),
	}
}

func (m *mockIdentityProvider) add(identity Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[identity.ID] = identity
	m.byEmail[strings.ToLower(identity.Email)] = identity.ID
}

func (m *mockIdentityProvider) get(id string) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[id]
	return identity, ok
}

func (m *mockIdentityProvider) GetByEmail(ctx context.Context, email string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Identity{}, m.failWith
	}
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return m.byID[id], nil
}

func (m *mockIdentityProvider) GetByID(ctx context.Context, id string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Identity{}, m.failWith
	}
	identity, ok := m.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func (m *mockIdentityProvider) Create(ctx context.Context, identity Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.failWith != nil {
		return m.failWith
	}
	if _, taken := m.byEmail[strings.ToLower(identity.Email)]; taken {
		return ErrEmailTaken
	}
	m.byID[identity.ID] = identity
	m.byEmail[strings.ToLower(identity.Email)] = identity.ID
	return nil
}

func (m *mockIdentityProvider) SetEmailVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setVerifiedCalls++
	if m.failWith != nil {
		return m.failWith
	}
	identity, ok := m.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.EmailVerified = true
	m.byID[id] = identity
	return nil
}

func (m *mockIdentityProvider) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateHashCalls++
	if m.failWith != nil {
		return m.failWith
	}
	identity, ok := m.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PasswordHash = passwordHash
	m.byID[id] = identity
	return nil
}

func (m *mockIdentityProvider) UpdateRole(ctx context.Context, id string, role permission.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateRoleCalls++
	if m.failWith != nil {
		return m.failWith
	}
	identity, ok := m.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.Role = role
	m.byID[id] = identity
	return nil
}

type sentEmail struct {
	To    string
	Kind  EmailKind
	Token string
}

type captureDispatcher struct {
	mu       sync.Mutex
	sent     []sentEmail
	failWith error
}

func (d *captureDispatcher) Send(ctx context.Context, toAddress string, kind EmailKind, tokenValue string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.sent = append(d.sent, sentEmail{To: toAddress, Kind: kind, Token: tokenValue})
	return nil
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *captureDispatcher) last(t *testing.T) sentEmail {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		t.Fatal("no email was dispatched")
	}
	return d.sent[len(d.sent)-1]
}

type stubSessionResolver struct {
	session Session
	err     error
}

func (s *stubSessionResolver) Resolve(ctx context.Context) (Session, error) {
	if s.err != nil {
		return Session{}, s.err
	}
	return s.session, nil
}

type stubOwnershipResolver struct {
	owners map[ResourceRef]string
	err    error
}

func (s *stubOwnershipResolver) OwnerOf(ctx context.Context, resource ResourceRef) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.owners[resource], nil
}

// testConfig trades hashing cost and enumeration delay for test speed while
// keeping the default throttle policy intact.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.Security.EnumerationDelayMin = 0
	cfg.Security.EnumerationDelayMax = time.Millisecond
	return cfg
}

type testHarness struct {
	engine     *Engine
	redis      *miniredis.Miniredis
	provider   *mockIdentityProvider
	dispatcher *captureDispatcher
	sessions   *stubSessionResolver
	owners     *stubOwnershipResolver
	clock      *fakeClock
}

func newTestEngine(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(mr.Close)

	h := &testHarness{
		redis:      mr,
		provider:   newMockIdentityProvider(),
		dispatcher: &captureDispatcher{},
		sessions:   &stubSessionResolver{},
		owners:     &stubOwnershipResolver{owners: make(map[ResourceRef]string)},
		clock:      newFakeClock(),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(h.provider).
		WithEmailDispatcher(h.dispatcher).
		WithSessionResolver(h.sessions).
		WithOwnershipResolver(h.owners).
		WithClock(h.clock).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	h.engine = engine
	return h
}

// seedUser hashes the password with the harness engine's parameters and
// registers the identity directly with the provider.
func (h *testHarness) seedUser(t *testing.T, email, plainPassword string, verified bool, role permission.Role) Identity {
	t.Helper()

	hash, err := h.engine.hasher.Hash(plainPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	identity := Identity{
		ID:            "user-" + email,
		Email:         strings.ToLower(email),
		PasswordHash:  hash,
		EmailVerified: verified,
		Role:          role,
	}
	h.provider.add(identity)
	return identity
}
