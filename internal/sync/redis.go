package sync

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const eventChannel = "crewsync:events"

// RedisBridge relays change events through a Redis channel so every
// instance's hub sees every mutation. Locally published events travel
// out to Redis and come back through the subscription, including to the
// publishing instance, so there is exactly one delivery path.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisBridge(client *redis.Client, hub *Hub) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		client: client,
		hub:    hub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.consume(ctx)
	return b
}

// Publish sends the event to Redis; delivery into the local hub happens
// via the subscription loop.
func (b *RedisBridge) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("sync: marshal event: %v", err)
		return
	}
	if err := b.client.Publish(context.Background(), eventChannel, data).Err(); err != nil {
		log.Printf("sync: publish event: %v", err)
	}
}

func (b *RedisBridge) consume(ctx context.Context) {
	defer close(b.done)
	sub := b.client.Subscribe(ctx, eventChannel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("sync: decode event: %v", err)
				continue
			}
			b.hub.Publish(evt)
		}
	}
}

// Close stops the subscription loop.
func (b *RedisBridge) Close() error {
	b.cancel()
	<-b.done
	return nil
}
