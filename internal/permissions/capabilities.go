package permissions

// Capability names a single right a member may hold within an organization.
type Capability string

const (
	// CapabilityAll is the wildcard sentinel granting every capability.
	CapabilityAll Capability = "*"

	CapabilityViewOrganization   Capability = "org.view"
	CapabilityUpdateOrganization Capability = "org.update"
	CapabilityDeleteOrganization Capability = "org.delete"
	CapabilityInviteMembers      Capability = "members.invite"
	CapabilityManageMembers      Capability = "members.manage"
	CapabilityManageBrands       Capability = "brands.manage"
)

// Role names a bundle of default capabilities.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// rolePermissions is the static role table. An unrecognised role maps to the
// empty set: unknown input is denied everything rather than anything.
var rolePermissions = map[Role][]Capability{
	RoleOwner: {
		CapabilityViewOrganization,
		CapabilityUpdateOrganization,
		CapabilityDeleteOrganization,
		CapabilityInviteMembers,
		CapabilityManageMembers,
		CapabilityManageBrands,
	},
	RoleAdmin: {
		CapabilityViewOrganization,
		CapabilityUpdateOrganization,
		CapabilityInviteMembers,
		CapabilityManageMembers,
		CapabilityManageBrands,
	},
	RoleMember: {
		CapabilityViewOrganization,
	},
}

// roleRanks orders roles for escalation checks. Zero means unranked.
var roleRanks = map[Role]int{
	RoleOwner:  3,
	RoleAdmin:  2,
	RoleMember: 1,
}

// Subject is the minimal view of a membership record needed for capability
// and escalation decisions.
type Subject struct {
	UserID    string
	Role      Role
	Overrides []Capability
}

// PermissionsFor returns the capability set derived from the role table.
func PermissionsFor(role Role) map[Capability]struct{} {
	caps := rolePermissions[role]
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// HasCapability reports whether the subject holds the capability. A non-empty
// override list fully replaces the role-derived set.
func HasCapability(s Subject, capability Capability) bool {
	if len(s.Overrides) > 0 {
		for _, c := range s.Overrides {
			if c == CapabilityAll || c == capability {
				return true
			}
		}
		return false
	}

	set := PermissionsFor(s.Role)
	if _, ok := set[CapabilityAll]; ok {
		return true
	}
	_, ok := set[capability]
	return ok
}

// HasWildcard reports whether the subject holds the wildcard capability
// through an explicit override.
func HasWildcard(s Subject) bool {
	for _, c := range s.Overrides {
		if c == CapabilityAll {
			return true
		}
	}
	return false
}

// Rank returns the escalation rank of a role; unknown roles rank lowest.
func Rank(role Role) int {
	return roleRanks[role]
}

// ValidRole reports whether the role is one of the closed enum values.
func ValidRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}
