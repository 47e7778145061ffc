package sync

import (
	"context"
	"log"
	"sync/atomic"

	"crewsync/api/internal/scope"
	"crewsync/api/internal/store"
)

// State tracks a controller through its session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateSubscribing
	StateLive
)

// Store is the read side the controller projects from. Every query is
// already organization-filtered; the controller never sees another
// tenant's rows.
type Store interface {
	GetOrganization(ctx context.Context, id string) (store.Organization, error)
	ListUsersByOrg(ctx context.Context, organizationID string) ([]store.User, error)
	ListTasksByOrg(ctx context.Context, organizationID string) ([]store.Task, error)
	ListTimeLogsByOrg(ctx context.Context, organizationID string) ([]store.TimeLog, error)
}

// Update is one republished projection: a single collection's full
// organization-scoped state after a change.
type Update struct {
	Collection Collection `json:"collection"`
	Payload    any        `json:"payload"`
}

// Controller is the per-connection sync state machine. Projections are
// only ever written by its event loop, never by the action that issued
// a mutation, so the authoritative state is always the last event
// received.
type Controller struct {
	store       Store
	hub         *Hub
	principalID string
	orgID       string
	state       atomic.Int32

	// projection is owned by the Run goroutine.
	projection scope.Snapshot
}

func NewController(st Store, hub *Hub, principalID, organizationID string) *Controller {
	c := &Controller{store: st, hub: hub, principalID: principalID, orgID: organizationID}
	c.state.Store(int32(StateDisconnected))
	return c
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Run subscribes, publishes each collection's first snapshot as it
// arrives, then republishes a collection on every change event, in
// delivery order, until the context ends or the principal signs out.
// Teardown is unconditional: projections are cleared before returning
// even when emits are still failing.
func (c *Controller) Run(ctx context.Context, emit func(Update) error) error {
	c.state.Store(int32(StateSubscribing))
	defer c.teardown()

	// Subscribe before the initial load so no change slips between
	// snapshot and stream.
	events := c.hub.Subscribe(ctx, c.orgID)

	// Partial data is fine: collections publish independently, there is
	// no barrier wait. A failed initial load surfaces on the next event
	// for that collection.
	for _, collection := range Collections {
		if err := c.republish(ctx, collection, emit); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("sync: initial %s snapshot for org %s: %v", collection, c.orgID, err)
		}
	}
	c.state.Store(int32(StateLive))

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.SignedOutUserID != "" {
				if evt.SignedOutUserID == c.principalID {
					return nil
				}
				continue
			}
			if err := c.republish(ctx, evt.Collection, emit); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("sync: republish %s for org %s: %v", evt.Collection, c.orgID, err)
			}
		}
	}
}

// republish reloads one collection's projection and emits it.
func (c *Controller) republish(ctx context.Context, collection Collection, emit func(Update) error) error {
	switch collection {
	case CollectionOrganization:
		org, err := c.store.GetOrganization(ctx, c.orgID)
		if err != nil {
			return err
		}
		c.projection.Organization = &org
		return emit(Update{Collection: collection, Payload: &org})
	case CollectionUsers:
		users, err := c.store.ListUsersByOrg(ctx, c.orgID)
		if err != nil {
			return err
		}
		if users == nil {
			users = []store.User{}
		}
		c.projection.Users = users
		return emit(Update{Collection: collection, Payload: users})
	case CollectionTasks:
		tasks, err := c.store.ListTasksByOrg(ctx, c.orgID)
		if err != nil {
			return err
		}
		if tasks == nil {
			tasks = []store.Task{}
		}
		c.projection.Tasks = tasks
		return emit(Update{Collection: collection, Payload: tasks})
	case CollectionLogs:
		logs, err := c.store.ListTimeLogsByOrg(ctx, c.orgID)
		if err != nil {
			return err
		}
		if logs == nil {
			logs = []store.TimeLog{}
		}
		c.projection.Logs = logs
		return emit(Update{Collection: collection, Payload: logs})
	}
	return nil
}

// teardown clears the local projections so nothing scoped to this
// session can leak into a later one.
func (c *Controller) teardown() {
	c.projection = scope.Snapshot{}
	c.state.Store(int32(StateDisconnected))
}
