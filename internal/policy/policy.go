// Package policy holds the authorization decisions for the role
// hierarchy. Every function is pure: given the principal and the
// records in question it answers allow/deny without touching storage.
// Call sites gate the UI surface with these answers, and the service
// re-checks them before issuing any mutation.
package policy

import (
	"crewsync/api/internal/hierarchy"
	"crewsync/api/internal/store"
)

// CanManageUsers reports whether the principal may create, re-role, or
// delete users. Only admins manage the org chart.
func CanManageUsers(principal store.User) bool {
	return hierarchy.Role(principal.Role) == hierarchy.RoleAdmin
}

// CanAssignTo reports whether the principal may assign a task to the
// target: the principal must strictly outrank them.
func CanAssignTo(principal, target store.User) bool {
	return hierarchy.Outranks(hierarchy.Role(principal.Role), hierarchy.Role(target.Role))
}

// CanAssignToAll reports whether the principal may assign a task to the
// ALL sentinel, meaning every subordinate. True when the principal
// outranks at least one other user in the organization.
func CanAssignToAll(principal store.User, orgUsers []store.User) bool {
	for _, u := range orgUsers {
		if u.ID == principal.ID {
			continue
		}
		if CanAssignTo(principal, u) {
			return true
		}
	}
	return false
}

// CandidateManagersFor returns the users a holder of role may report
// to: exactly those whose role strictly outranks it.
func CandidateManagersFor(role string, users []store.User) []store.User {
	candidates := make([]store.User, 0, len(users))
	for _, u := range users {
		if hierarchy.Outranks(hierarchy.Role(u.Role), hierarchy.Role(role)) {
			candidates = append(candidates, u)
		}
	}
	return candidates
}

// VisibleSubordinates returns the users strictly outranked by the
// principal. Callers pass the organization-scoped user set.
func VisibleSubordinates(principal store.User, users []store.User) []store.User {
	subs := make([]store.User, 0, len(users))
	for _, u := range users {
		if u.ID == principal.ID {
			continue
		}
		if CanAssignTo(principal, u) {
			subs = append(subs, u)
		}
	}
	return subs
}

// CanCompleteTask reports whether the principal may complete the task:
// either it is assigned to them directly, or it is an ALL task whose
// assigner outranks the principal.
func CanCompleteTask(principal store.User, task store.Task, assigner store.User) bool {
	if task.AssignedTo == principal.ID {
		return true
	}
	if task.AssignedTo == store.AssigneeAll {
		return hierarchy.Outranks(hierarchy.Role(assigner.Role), hierarchy.Role(principal.Role))
	}
	return false
}
