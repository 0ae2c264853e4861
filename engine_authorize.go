package membergate

import (
	"context"
	"errors"

	"github.com/membergate/membergate/permission"
)

// Authorize decides whether the session in ctx may apply verb to resource.
// It returns nil on allow, ErrUnauthenticated when an anonymous caller was
// denied, ErrForbidden when an authenticated one was, and
// ErrStoreUnavailable when the decision could not be made. Every error path
// is a deny.
//
// The check is two-tiered: a role that holds the verb at any-scope is
// allowed outright; otherwise an own-scope grant is honored only after the
// ownership resolver confirms the caller owns the resource.
func (e *Engine) Authorize(ctx context.Context, verb permission.Verb, resource ResourceRef) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.resolveSession(ctx)
	if err != nil {
		e.metricInc(MetricAuthorizeDenied)
		e.emitAudit(ctx, auditEventAuthorize, false, "", err, nil)
		return err
	}

	if permission.CanPerform(session.IdentityID, session.Role, permission.Any(verb), "") {
		e.metricInc(MetricAuthorizeAllowed)
		e.emitAudit(ctx, auditEventAuthorize, true, session.IdentityID, nil, func() map[string]string {
			return map[string]string{"verb": verb.String(), "scope": "any"}
		})
		return nil
	}

	// Only resolve ownership when the role could actually use it.
	_, ownScope := permission.Grants(session.Role)
	if session.IdentityID != "" && e.owners != nil && ownScope.Has(int(verb)) {
		ownerID, err := e.owners.OwnerOf(ctx, resource)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			e.metricInc(MetricAuthorizeDenied)
			e.emitAudit(ctx, auditEventAuthorize, false, session.IdentityID, err, nil)
			return storeFault(err)
		}
		if permission.CanPerform(session.IdentityID, session.Role, permission.Own(verb), ownerID) {
			e.metricInc(MetricAuthorizeAllowed)
			e.emitAudit(ctx, auditEventAuthorize, true, session.IdentityID, nil, func() map[string]string {
				return map[string]string{"verb": verb.String(), "scope": "own"}
			})
			return nil
		}
	}

	denial := ErrForbidden
	if session.IdentityID == "" {
		denial = ErrUnauthenticated
	}
	e.metricInc(MetricAuthorizeDenied)
	e.emitAudit(ctx, auditEventAuthorize, false, session.IdentityID, denial, func() map[string]string {
		return map[string]string{"verb": verb.String()}
	})
	return denial
}

// resolveSession turns the resolver's view of ctx into a session, degrading
// an absent session to an anonymous guest rather than an error. Resolver
// faults are not degraded: an unreadable session store must deny, not
// silently downgrade a possibly-privileged caller.
func (e *Engine) resolveSession(ctx context.Context) (Session, error) {
	if e.sessions == nil {
		return Session{Role: permission.RoleGuest}, nil
	}
	session, err := e.sessions.Resolve(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return Session{Role: permission.RoleGuest}, nil
		}
		return Session{}, storeFault(err)
	}
	if !session.Role.Valid() {
		session.Role = permission.RoleGuest
	}
	return session, nil
}

// AssignRole changes an identity's role. The caller must hold the
// identity-manage verb, which the default grant table gives to admins only.
func (e *Engine) AssignRole(ctx context.Context, targetID string, role permission.Role) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if !role.Valid() {
		return ErrRegistrationInvalid
	}

	if err := e.Authorize(ctx, permission.IdentityManage, ResourceRef{Kind: ResourceIdentity, ID: targetID}); err != nil {
		return err
	}

	if err := e.identities.UpdateRole(ctx, targetID, role); err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return storeFault(err)
	}

	e.emitAudit(ctx, auditEventRoleAssignment, true, targetID, nil, func() map[string]string {
		return map[string]string{"role": role.String()}
	})
	return nil
}
