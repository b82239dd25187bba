package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/stratum/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Publisher broadcasts session events on a Redis pub/sub channel so every node
// (and `stratum events`) can follow the cluster.
type Publisher struct {
	client  backend.UniversalClient
	channel string
}

// NewPublisher creates a publisher on <prefix>events.
func NewPublisher(client backend.UniversalClient, prefix string) *Publisher {
	return &Publisher{
		client:  client,
		channel: prefix + "events",
	}
}

// Publish implements ports.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return domain.StoreUnavailable("publish event", err)
	}
	return nil
}

// Events subscribes to the channel and decodes every message.
// Undecodable messages are skipped. The channel closes when ctx is done.
func (p *Publisher) Events(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := p.client.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, domain.StoreUnavailable("subscribe events", err)
	}

	out := make(chan domain.Event, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
