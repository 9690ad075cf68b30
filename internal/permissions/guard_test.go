package permissions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanModifyMemberRoleDeniesSelf(t *testing.T) {
	owner := Subject{UserID: "u1", Role: RoleOwner}
	require.False(t, CanModifyMemberRole(owner, owner))
}

func TestCanModifyMemberRoleRequiresHigherRank(t *testing.T) {
	owner := Subject{UserID: "u1", Role: RoleOwner}
	admin := Subject{UserID: "u2", Role: RoleAdmin}
	member := Subject{UserID: "u3", Role: RoleMember}

	require.True(t, CanModifyMemberRole(owner, admin))
	require.True(t, CanModifyMemberRole(admin, member))
	require.False(t, CanModifyMemberRole(member, admin))
	require.False(t, CanModifyMemberRole(admin, owner))
}

func TestCanModifyMemberRoleDeniesPeers(t *testing.T) {
	a := Subject{UserID: "u1", Role: RoleAdmin}
	b := Subject{UserID: "u2", Role: RoleAdmin}
	require.False(t, CanModifyMemberRole(a, b))
	require.False(t, CanModifyMemberRole(b, a))
}

func TestCanModifyMemberRoleWildcardBypassesRank(t *testing.T) {
	wildcard := Subject{UserID: "u1", Role: RoleMember, Overrides: []Capability{CapabilityAll}}
	owner := Subject{UserID: "u2", Role: RoleOwner}
	require.True(t, CanModifyMemberRole(wildcard, owner))

	// A plain capability override is not the wildcard.
	scoped := Subject{UserID: "u3", Role: RoleMember, Overrides: []Capability{CapabilityManageMembers}}
	require.False(t, CanModifyMemberRole(scoped, owner))
}

func TestCanModifyMemberRoleUnknownActorRole(t *testing.T) {
	stranger := Subject{UserID: "u1", Role: Role("ghost")}
	member := Subject{UserID: "u2", Role: RoleMember}
	require.False(t, CanModifyMemberRole(stranger, member))
}
