package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleOwner     Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

// Level maps a role onto the viewer < commenter < editor < owner ordering.
// Unknown roles rank below viewer so they never satisfy a threshold.
func Level(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleCommenter:
		return 2
	case RoleEditor:
		return 3
	case RoleOwner:
		return 4
	default:
		return 0
	}
}

// Max returns the higher-ranked of a and b.
func Max(a, b Role) Role {
	if Level(b) > Level(a) {
		return b
	}
	return a
}

// AtLeast reports whether role meets the min threshold.
func AtLeast(role, min Role) bool {
	return Level(role) >= Level(min) && Level(role) > 0
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite || action == ActionPublish
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Valid reports whether role names one of the known levels. Unlike Normalize
// it does not substitute a default, so grant endpoints can reject bad input.
func Valid(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleOwner:
		return true
	default:
		return false
	}
}
