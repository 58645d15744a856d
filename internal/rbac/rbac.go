package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead         Action = "read"
	ActionStartSession Action = "start_session"
	ActionManage       Action = "manage"
)

// Can reports whether a project role allows action. Viewer is the role of a
// non-member on a public project.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner, RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionStartSession
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Resolve derives the caller's role on a project from its membership row.
func Resolve(isOwner bool, memberRole string, public bool) Role {
	if isOwner {
		return RoleOwner
	}
	switch Role(memberRole) {
	case RoleOwner, RoleAdmin, RoleMember:
		return Role(memberRole)
	}
	if public {
		return RoleViewer
	}
	return RoleNone
}
