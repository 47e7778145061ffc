// Package scope derives the subset of the record set visible to a
// principal. Projection is total and side-effect-free: identical inputs
// always yield identical outputs, and nothing outside the principal's
// organization ever appears in a snapshot.
package scope

import "crewsync/api/internal/store"

// Snapshot is the organization-scoped view handed to consumers. Each
// collection is independent; a nil Organization means the record has
// not been synced yet.
type Snapshot struct {
	Organization *store.Organization `json:"organization"`
	Users        []store.User        `json:"users"`
	Tasks        []store.Task        `json:"tasks"`
	Logs         []store.TimeLog     `json:"logs"`
}

// Project filters the full record set down to the principal's
// organization. A nil principal yields an empty snapshot.
func Project(principal *store.User, orgs []store.Organization, users []store.User, tasks []store.Task, logs []store.TimeLog) Snapshot {
	if principal == nil {
		return Snapshot{Users: []store.User{}, Tasks: []store.Task{}, Logs: []store.TimeLog{}}
	}
	orgID := principal.OrganizationID

	snap := Snapshot{
		Users: make([]store.User, 0, len(users)),
		Tasks: make([]store.Task, 0, len(tasks)),
		Logs:  make([]store.TimeLog, 0, len(logs)),
	}

	for i := range orgs {
		if orgs[i].ID == orgID {
			org := orgs[i]
			snap.Organization = &org
			break
		}
	}
	for _, u := range users {
		if u.OrganizationID == orgID {
			snap.Users = append(snap.Users, u)
		}
	}
	for _, t := range tasks {
		if t.OrganizationID == orgID {
			snap.Tasks = append(snap.Tasks, t)
		}
	}
	for _, l := range logs {
		if l.OrganizationID == orgID {
			snap.Logs = append(snap.Logs, l)
		}
	}
	return snap
}

// SameOrganization reports whether the record's organization matches
// the principal's. A mismatch is a scope violation and callers must
// fail closed.
func SameOrganization(principal store.User, organizationID string) bool {
	return principal.OrganizationID != "" && principal.OrganizationID == organizationID
}

// OpenLogFor finds the principal's open log for the given day bucket,
// if any.
func OpenLogFor(snap Snapshot, userID, date string) *store.TimeLog {
	for i := range snap.Logs {
		l := &snap.Logs[i]
		if l.UserID == userID && l.Date == date && l.ClockOut == nil {
			return l
		}
	}
	return nil
}
