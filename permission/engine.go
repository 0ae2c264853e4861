package permission

// roleGrants holds the two grant masks backing a role: verbs the role may
// apply to any resource, and verbs it may apply only to resources it owns.
type roleGrants struct {
	any Mask64
	own Mask64
}

// grantTable is built once and never mutated afterwards. RoleAdmin is absent
// on purpose: admin short-circuits in CanPerform and never consults a mask.
var grantTable = map[Role]roleGrants{
	RoleGuest: {
		any: maskOf(PostRead, CommentRead),
	},
	RoleUser: {
		any: maskOf(PostRead, CommentRead, PostCreate, CommentCreate, FollowManage),
		own: maskOf(PostUpdate, PostDelete, CommentUpdate, CommentDelete),
	},
	RoleModerator: {
		any: maskOf(
			PostRead, CommentRead, PostCreate, CommentCreate, FollowManage,
			PostUpdate, PostDelete, CommentUpdate, CommentDelete,
		),
		own: maskOf(PostUpdate, PostDelete, CommentUpdate, CommentDelete),
	},
}

// CanPerform reports whether the actor may perform action. Evaluation order:
//
//  1. RoleAdmin always passes.
//  2. ScopeAny passes iff the role's any-mask grants the verb.
//  3. ScopeOwn passes iff the role grants the verb at own (or any) scope,
//     an owner is known, and the actor is that owner. An empty ownerID fails
//     closed: an action whose ownership could not be resolved is never
//     treated as owned by the caller.
//
// The function is pure; identical inputs always produce identical output.
func CanPerform(actorID string, role Role, action Action, ownerID string) bool {
	if !role.Valid() || !action.Verb.Valid() {
		return false
	}
	if role == RoleAdmin {
		return true
	}

	grants := grantTable[role]

	switch action.Scope {
	case ScopeAny:
		return grants.any.Has(int(action.Verb))
	case ScopeOwn:
		if !grants.own.Has(int(action.Verb)) && !grants.any.Has(int(action.Verb)) {
			return false
		}
		if actorID == "" || ownerID == "" {
			return false
		}
		return actorID == ownerID
	default:
		return false
	}
}

// Grants returns copies of the role's grant masks. Useful for introspection
// endpoints; mutating the returned masks has no effect on decisions.
func Grants(role Role) (anyScope, ownScope Mask64) {
	g := grantTable[role]
	return g.any, g.own
}
