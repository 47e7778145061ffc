package sync

import (
	"context"
	"sync"
)

// Hub fan-outs change events to all subscribers of an organization.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a subscriber for one organization's events and
// returns a channel which will receive them. The channel is closed when
// the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, organizationID string) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[organizationID] == nil {
		h.subs[organizationID] = make(map[int]chan Event)
	}
	h.subs[organizationID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if orgSubs, ok := h.subs[organizationID]; ok {
			delete(orgSubs, id)
			if len(orgSubs) == 0 {
				delete(h.subs, organizationID)
			}
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to the organization's subscribers.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.OrganizationID] {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// SubscriberCount reports the number of live subscribers for an
// organization.
func (h *Hub) SubscriberCount(organizationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[organizationID])
}
