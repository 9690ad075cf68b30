package permissions

// CanModifyMemberRole decides whether the actor may change the target's role
// or access. Self-service changes are rejected outright; the calling layer is
// responsible for offering a dedicated profile flow instead. Otherwise the
// actor must outrank the target, or hold the wildcard capability.
func CanModifyMemberRole(actor, target Subject) bool {
	if actor.UserID != "" && actor.UserID == target.UserID {
		return false
	}

	if HasWildcard(actor) {
		return true
	}

	return Rank(actor.Role) > Rank(target.Role)
}
