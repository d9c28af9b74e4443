// Package redispub publishes moderation events over Redis pub/sub. Each
// event goes to the channel of its audience, safety:events:<scope>:<id>.
package redispub

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/hooks"
)

const channelPrefix = "safety:events:"

// Channel returns the channel for an audience.
func Channel(scope safety.TargetScope, targetID string) string {
	return channelPrefix + string(scope) + ":" + targetID
}

// Publisher implements hooks.Publisher.
type Publisher struct {
	client redis.UniversalClient
}

var _ hooks.Publisher = (*Publisher)(nil)

// New creates a publisher.
func New(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish sends e as JSON.
func (p *Publisher) Publish(ctx context.Context, e hooks.Event) error {
	data, err := sonic.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	if err := p.client.Publish(ctx, Channel(e.TargetScope, e.TargetID), data).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", e.ID, err)
	}
	return nil
}

// Subscribe listens on an audience's channel.
func (p *Publisher) Subscribe(ctx context.Context, scope safety.TargetScope, targetID string) *redis.PubSub {
	return p.client.Subscribe(ctx, Channel(scope, targetID))
}

// Decode parses a received message.
func Decode(msg *redis.Message) (hooks.Event, error) {
	var e hooks.Event
	if err := sonic.UnmarshalString(msg.Payload, &e); err != nil {
		return e, fmt.Errorf("decode event on %s: %w", msg.Channel, err)
	}
	return e, nil
}
