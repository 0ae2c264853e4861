package permission

// Role is an account's privilege tier, ordered from least to most privileged.
type Role uint8

const (
	// RoleGuest is the implicit role of an unauthenticated caller.
	RoleGuest Role = iota
	// RoleUser is the default role assigned at registration.
	RoleUser
	// RoleModerator may act on other users' posts and comments but has no
	// user-management grants.
	RoleModerator
	// RoleAdmin passes every check unconditionally.
	RoleAdmin
)

// String returns the canonical lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleUser:
		return "user"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r <= RoleAdmin
}

// ParseRole maps a stored role name back to a Role. Unknown names resolve to
// RoleGuest so a corrupted role field can never widen privileges.
func ParseRole(name string) Role {
	switch name {
	case "user":
		return RoleUser
	case "moderator":
		return RoleModerator
	case "admin":
		return RoleAdmin
	default:
		return RoleGuest
	}
}

// Verb is one operation in the closed action set. Verb values double as bit
// positions inside a role's grant masks.
type Verb uint8

const (
	// PostRead is an exported verb of the closed action set.
	PostRead Verb = iota
	// PostCreate is an exported verb of the closed action set.
	PostCreate
	// PostUpdate is an exported verb of the closed action set.
	PostUpdate
	// PostDelete is an exported verb of the closed action set.
	PostDelete
	// CommentRead is an exported verb of the closed action set.
	CommentRead
	// CommentCreate is an exported verb of the closed action set.
	CommentCreate
	// CommentUpdate is an exported verb of the closed action set.
	CommentUpdate
	// CommentDelete is an exported verb of the closed action set.
	CommentDelete
	// FollowManage covers creating and removing follow subscriptions.
	FollowManage
	// RoleAssign changes another identity's role.
	RoleAssign
	// IdentityManage covers administrative account operations
	// (disable, delete, force-verify).
	IdentityManage

	verbCount // keep last
)

// String returns the canonical verb name.
func (v Verb) String() string {
	switch v {
	case PostRead:
		return "post.read"
	case PostCreate:
		return "post.create"
	case PostUpdate:
		return "post.update"
	case PostDelete:
		return "post.delete"
	case CommentRead:
		return "comment.read"
	case CommentCreate:
		return "comment.create"
	case CommentUpdate:
		return "comment.update"
	case CommentDelete:
		return "comment.delete"
	case FollowManage:
		return "follow.manage"
	case RoleAssign:
		return "role.assign"
	case IdentityManage:
		return "identity.manage"
	default:
		return "unknown"
	}
}

// Valid reports whether v is one of the defined verbs.
func (v Verb) Valid() bool {
	return v < verbCount
}

// Scope narrows a verb to the caller's own resources or to any resource.
type Scope uint8

const (
	// ScopeAny applies the verb regardless of who owns the resource.
	ScopeAny Scope = iota
	// ScopeOwn applies the verb only to resources the caller owns.
	ScopeOwn
)

// String returns "any" or "own".
func (s Scope) String() string {
	if s == ScopeOwn {
		return "own"
	}
	return "any"
}

// Action pairs a verb with the scope it is requested at. The pair is the unit
// every authorization decision is made on.
type Action struct {
	Verb  Verb
	Scope Scope
}

// String returns e.g. "post.update:own".
func (a Action) String() string {
	return a.Verb.String() + ":" + a.Scope.String()
}

// Own returns the owner-scoped action for v.
func Own(v Verb) Action {
	return Action{Verb: v, Scope: ScopeOwn}
}

// Any returns the any-scoped action for v.
func Any(v Verb) Action {
	return Action{Verb: v, Scope: ScopeAny}
}
