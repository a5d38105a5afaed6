package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// inboxBuffer bounds how many undelivered messages a slow subscriber keeps.
const inboxBuffer = 64

// SignalBus implements domain.SignalBus over Redis Pub/Sub. Bots talk to each
// other through per-bot inbox channels; delivery is at most once.
type SignalBus struct {
	rdb    *redis.Client
	client *Client
}

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), client: c}
}

// InboxChannel is the channel a bot receives instructions on, e.g.
// moonbot:12:inbox.
func (sb *SignalBus) InboxChannel(botID int64) string {
	return sb.client.Key(strconv.FormatInt(botID, 10), "inbox")
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server, so a
// message published after it returns is not lost. The returned channel is
// closed when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := sb.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := sub.Channel(redis.WithChannelSize(inboxBuffer))
	out := make(chan []byte, inboxBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			var payload []byte
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				payload = []byte(m.Payload)
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
