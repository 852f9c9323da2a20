package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleParticipant Role = "participant"
	RoleModerator   Role = "moderator"
)

const (
	ActionRead            Action = "read"
	ActionSubmitTopic     Action = "submit_topic"
	ActionEditTopic       Action = "edit_topic"
	ActionEditGrid        Action = "edit_grid"
	ActionManageQueue     Action = "manage_queue"
	ActionPinTopic        Action = "pin_topic"
	ActionLockSubmissions Action = "lock_submissions"
)

// Can reports whether role may perform action. Participants may edit topics
// they author; callers check authorship separately.
func Can(role Role, action Action) bool {
	switch role {
	case RoleModerator:
		return true
	case RoleParticipant:
		return action == ActionRead || action == ActionSubmitTopic || action == ActionEditTopic
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps an untrusted role string to a known role. Unknown values
// become participants, which is what room members are by default.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleParticipant, RoleModerator:
		return Role(role)
	default:
		return RoleParticipant
	}
}
