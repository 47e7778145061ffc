// Package sync keeps connected clients consistent with the store. A Hub
// fans change events out to organization-scoped subscribers, a
// Controller per connection turns those events into republished
// projections, and a RedisBridge shares the event stream across
// instances.
package sync

// Collection names the synchronized record sets.
type Collection string

const (
	CollectionOrganization Collection = "organization"
	CollectionUsers        Collection = "users"
	CollectionTasks        Collection = "tasks"
	CollectionLogs         Collection = "logs"
)

// Collections lists every synchronized collection.
var Collections = []Collection{CollectionOrganization, CollectionUsers, CollectionTasks, CollectionLogs}

// Event is a change notification. A data event names the collection
// that changed within an organization; a control event carries the id
// of a principal whose sessions must tear down.
type Event struct {
	OrganizationID  string     `json:"organizationId"`
	Collection      Collection `json:"collection,omitempty"`
	SignedOutUserID string     `json:"signedOutUserId,omitempty"`
}

// Publisher is the write side of the event stream.
type Publisher interface {
	Publish(evt Event)
}
