package membergate

import (
	"context"
	"errors"
	"testing"

	"github.com/membergate/membergate/permission"
)

func TestAuthorizeGuestReadOnly(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.sessions.err = ErrUnauthenticated
	ctx := context.Background()
	post := ResourceRef{Kind: ResourcePost, ID: "post-1"}

	if err := h.engine.Authorize(ctx, permission.PostRead, post); err != nil {
		t.Fatalf("guest PostRead = %v, want allow", err)
	}
	if err := h.engine.Authorize(ctx, permission.PostCreate, post); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("guest PostCreate = %v, want ErrUnauthenticated", err)
	}
}

func TestAuthorizeOwnershipScope(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.sessions.session = Session{IdentityID: "user-1", Role: permission.RoleUser}
	ctx := context.Background()

	mine := ResourceRef{Kind: ResourcePost, ID: "post-mine"}
	theirs := ResourceRef{Kind: ResourcePost, ID: "post-theirs"}
	h.owners.owners[mine] = "user-1"
	h.owners.owners[theirs] = "user-2"

	if err := h.engine.Authorize(ctx, permission.PostUpdate, mine); err != nil {
		t.Fatalf("update own post = %v, want allow", err)
	}
	if err := h.engine.Authorize(ctx, permission.PostDelete, mine); err != nil {
		t.Fatalf("delete own post = %v, want allow", err)
	}
	if err := h.engine.Authorize(ctx, permission.PostUpdate, theirs); !errors.Is(err, ErrForbidden) {
		t.Fatalf("update foreign post = %v, want ErrForbidden", err)
	}

	// Unresolvable ownership fails closed even for the caller's own verbs.
	orphan := ResourceRef{Kind: ResourcePost, ID: "post-orphan"}
	if err := h.engine.Authorize(ctx, permission.PostDelete, orphan); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete unowned post = %v, want ErrForbidden", err)
	}
}

func TestAuthorizeModeratorReachesForeignContent(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.sessions.session = Session{IdentityID: "mod-1", Role: permission.RoleModerator}
	ctx := context.Background()

	theirs := ResourceRef{Kind: ResourceComment, ID: "comment-9"}
	h.owners.owners[theirs] = "user-2"

	if err := h.engine.Authorize(ctx, permission.CommentDelete, theirs); err != nil {
		t.Fatalf("moderator delete = %v, want allow", err)
	}
	// Moderation stops at content; account administration stays admin-only.
	if err := h.engine.Authorize(ctx, permission.IdentityManage, ResourceRef{Kind: ResourceIdentity, ID: "user-2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("moderator IdentityManage = %v, want ErrForbidden", err)
	}
}

func TestAuthorizeAdminBypassesGrantTable(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.sessions.session = Session{IdentityID: "admin-1", Role: permission.RoleAdmin}
	ctx := context.Background()

	for _, verb := range []permission.Verb{permission.PostDelete, permission.CommentDelete, permission.IdentityManage} {
		if err := h.engine.Authorize(ctx, verb, ResourceRef{Kind: ResourcePost, ID: "any"}); err != nil {
			t.Fatalf("admin %v = %v, want allow", verb, err)
		}
	}
}

func TestAuthorizeFailsClosedOnResolverFaults(t *testing.T) {
	h := newTestEngine(t, testConfig())
	ctx := context.Background()
	post := ResourceRef{Kind: ResourcePost, ID: "post-1"}

	h.sessions.err = errors.New("session store down")
	if err := h.engine.Authorize(ctx, permission.PostRead, post); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("session fault = %v, want ErrStoreUnavailable", err)
	}

	h.sessions.err = nil
	h.sessions.session = Session{IdentityID: "user-1", Role: permission.RoleUser}
	h.owners.err = errors.New("ownership lookup down")
	if err := h.engine.Authorize(ctx, permission.PostUpdate, post); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("ownership fault = %v, want ErrStoreUnavailable", err)
	}
}

func TestAuthorizeUnknownRoleDegradesToGuest(t *testing.T) {
	h := newTestEngine(t, testConfig())
	h.sessions.session = Session{IdentityID: "user-1", Role: permission.Role(99)}
	ctx := context.Background()

	if err := h.engine.Authorize(ctx, permission.PostRead, ResourceRef{Kind: ResourcePost, ID: "p"}); err != nil {
		t.Fatalf("degraded PostRead = %v, want allow", err)
	}
	if err := h.engine.Authorize(ctx, permission.PostCreate, ResourceRef{Kind: ResourcePost, ID: "p"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("degraded PostCreate = %v, want ErrForbidden", err)
	}
}

func TestAssignRole(t *testing.T) {
	h := newTestEngine(t, testConfig())
	target := h.seedUser(t, "alice@example.com", "a long password", true, permission.RoleUser)
	ctx := context.Background()

	h.sessions.session = Session{IdentityID: "user-2", Role: permission.RoleUser}
	if err := h.engine.AssignRole(ctx, target.ID, permission.RoleModerator); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin AssignRole = %v, want ErrForbidden", err)
	}

	h.sessions.session = Session{IdentityID: "admin-1", Role: permission.RoleAdmin}
	if err := h.engine.AssignRole(ctx, target.ID, permission.RoleModerator); err != nil {
		t.Fatalf("admin AssignRole failed: %v", err)
	}
	updated, _ := h.provider.get(target.ID)
	if updated.Role != permission.RoleModerator {
		t.Fatalf("role = %v, want moderator", updated.Role)
	}

	if err := h.engine.AssignRole(ctx, "no-such-user", permission.RoleUser); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("unknown target = %v, want ErrIdentityNotFound", err)
	}
	if err := h.engine.AssignRole(ctx, target.ID, permission.Role(42)); !errors.Is(err, ErrRegistrationInvalid) {
		t.Fatalf("invalid role = %v, want ErrRegistrationInvalid", err)
	}
}
