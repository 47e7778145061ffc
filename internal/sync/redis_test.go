package sync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisBridgeRelaysEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := NewHub()
	bridge := NewRedisBridge(client, hub)
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "org-acme")

	// The consume loop subscribes asynchronously; retry until the event
	// makes the round trip.
	deadline := time.After(3 * time.Second)
	for {
		bridge.Publish(Event{OrganizationID: "org-acme", Collection: CollectionUsers})
		select {
		case evt := <-ch:
			if evt.Collection != CollectionUsers {
				t.Fatalf("unexpected event %+v", evt)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("event never arrived through the bridge")
		}
	}
}
