package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// busBuffer is how many undelivered events a slow subscriber may lag behind
// before go-redis starts dropping them.
const busBuffer = 128

// SignalBus fans position lifecycle events out over Redis Pub/Sub so API
// processes in monitor mode see what trading processes do. Channels live
// under the client key prefix.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus { return &SignalBus{c: c} }

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.Underlying().Publish(ctx, sb.c.Key("bus", channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on channel until ctx is done, at
// which point the returned channel is closed. The subscription is confirmed
// before Subscribe returns so no event published afterwards is missed.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ps := sb.c.Underlying().Subscribe(ctx, sb.c.Key("bus", channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := ps.Channel(redis.WithChannelSize(busBuffer))
	out := make(chan []byte, busBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			var msg *redis.Message
			var ok bool
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-msgs:
			}
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
