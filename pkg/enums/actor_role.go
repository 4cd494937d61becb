package enums

import "fmt"

// ActorRole is the role claim carried by access tokens.
type ActorRole string

const (
	ActorRolePartner    ActorRole = "partner"
	ActorRoleDispatcher ActorRole = "dispatcher"
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleService    ActorRole = "service"
)

var validActorRoles = []ActorRole{
	ActorRolePartner,
	ActorRoleDispatcher,
	ActorRoleAdmin,
	ActorRoleService,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
