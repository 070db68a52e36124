package rbac

type Role string
type Action string

const (
	RoleMember        Role = "member"
	RoleAdministrator Role = "administrator"
)

const (
	ActionPost            Action = "post"
	ActionMentionEveryone Action = "mention_everyone"
	ActionModerate        Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdministrator:
		return true
	case RoleMember:
		return action == ActionPost
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdministrator:
		return Role(role)
	default:
		return RoleMember
	}
}
