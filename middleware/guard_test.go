package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/membergate/membergate"
	"github.com/membergate/membergate/permission"
	"github.com/membergate/membergate/sessionjwt"
)

type noopIdentityProvider struct{}

func (noopIdentityProvider) GetByEmail(context.Context, string) (membergate.Identity, error) {
	return membergate.Identity{}, membergate.ErrIdentityNotFound
}

func (noopIdentityProvider) GetByID(context.Context, string) (membergate.Identity, error) {
	return membergate.Identity{}, membergate.ErrIdentityNotFound
}

func (noopIdentityProvider) Create(context.Context, membergate.Identity) error { return nil }

func (noopIdentityProvider) SetEmailVerified(context.Context, string) error { return nil }

func (noopIdentityProvider) UpdatePasswordHash(context.Context, string, string) error { return nil }

func (noopIdentityProvider) UpdateRole(context.Context, string, permission.Role) error { return nil }

type noopDispatcher struct{}

func (noopDispatcher) Send(context.Context, string, membergate.EmailKind, string) error { return nil }

type staticOwners struct {
	owner string
}

func (s staticOwners) OwnerOf(context.Context, membergate.ResourceRef) (string, error) {
	return s.owner, nil
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testEngine(t *testing.T, owner string) (*membergate.Engine, *sessionjwt.Resolver) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	sessions, err := sessionjwt.New(testSecret, time.Hour, nil)
	if err != nil {
		t.Fatalf("sessionjwt.New failed: %v", err)
	}

	engine, err := membergate.New().
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		WithIdentityProvider(noopIdentityProvider{}).
		WithEmailDispatcher(noopDispatcher{}).
		WithSessionResolver(sessions).
		WithOwnershipResolver(staticOwners{owner: owner}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, sessions
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, handler http.Handler, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/posts", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireRejectsAnonymousCaller(t *testing.T) {
	engine, _ := testEngine(t, "")

	handler := Attach(Require(engine, permission.PostCreate)(okHandler()))
	if rec := doRequest(t, handler, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAllowsAuthenticatedCaller(t *testing.T) {
	engine, sessions := testEngine(t, "")

	token, err := sessions.Issue("user-1", permission.RoleUser)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	handler := Attach(Require(engine, permission.PostCreate)(okHandler()))
	if rec := doRequest(t, handler, token); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireOwnedDistinguishesOwnership(t *testing.T) {
	resolve := func(r *http.Request) membergate.ResourceRef {
		return membergate.ResourceRef{Kind: membergate.ResourcePost, ID: "post-1"}
	}

	mine, sessions := testEngine(t, "user-1")
	token, err := sessions.Issue("user-1", permission.RoleUser)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	handler := Attach(RequireOwned(mine, permission.PostDelete, resolve)(okHandler()))
	if rec := doRequest(t, handler, token); rec.Code != http.StatusOK {
		t.Fatalf("own resource status = %d, want 200", rec.Code)
	}

	theirs, sessions := testEngine(t, "user-2")
	token, err = sessions.Issue("user-1", permission.RoleUser)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	handler = Attach(RequireOwned(theirs, permission.PostDelete, resolve)(okHandler()))
	if rec := doRequest(t, handler, token); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign resource status = %d, want 403", rec.Code)
	}
}

func TestRequireWithNilEngine(t *testing.T) {
	handler := Require(nil, permission.PostRead)(okHandler())
	if rec := doRequest(t, handler, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWriteDenialRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()

	writeDenial(rec, &membergate.RateLimitedError{RetryAfter: 90 * time.Second})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "90" {
		t.Fatalf("Retry-After = %q, want 90", got)
	}
}

func TestBearerToken(t *testing.T) {
	if _, ok := bearerToken("Basic abc"); ok {
		t.Fatal("accepted a non-bearer scheme")
	}
	if _, ok := bearerToken("Bearer "); ok {
		t.Fatal("accepted an empty bearer value")
	}
	token, ok := bearerToken("Bearer abc.def.ghi")
	if !ok || token != "abc.def.ghi" {
		t.Fatalf("bearerToken = %q, %v", token, ok)
	}
}

func TestClientOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:52814"
	if got := clientOrigin(r); got != "192.0.2.10" {
		t.Fatalf("origin = %q, want 192.0.2.10", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientOrigin(r); got != "203.0.113.7" {
		t.Fatalf("forwarded origin = %q, want 203.0.113.7", got)
	}
}
