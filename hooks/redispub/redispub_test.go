package redispub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/hooks"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "safety:events:tribe:t1", Channel(safety.ScopeTribe, "t1"))
	assert.Equal(t, "safety:events:user:u1", Channel(safety.ScopeUser, "u1"))
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	p := New(client)

	sub := p.Subscribe(ctx, safety.ScopeTribe, "t1")
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	sent := hooks.NewEvent(hooks.EventUserMuted, safety.ScopeTribe, "t1",
		map[string]any{"user_id": "u1"}, time.UnixMilli(1700000000000))
	require.NoError(t, p.Publish(ctx, sent))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "safety:events:tribe:t1", msg.Channel)

	got, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, hooks.EventUserMuted, got.Type)
	assert.Equal(t, "u1", got.Payload["user_id"])
	assert.True(t, sent.CreatedAt.Equal(got.CreatedAt))
}

func TestPublish_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	err := New(client).Publish(context.Background(), hooks.NewEvent(hooks.EventDecisionBlocked, safety.ScopeUser, "u1", nil, time.Now()))
	assert.Error(t, err)
}
