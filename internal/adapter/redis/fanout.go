package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const relayChannel = "volleyball:relay"

// Fanout relays broadcasts between instances over Redis Pub/Sub.
type Fanout struct {
	rdb *goredis.Client
}

func NewFanout(rdb *goredis.Client) *Fanout {
	return &Fanout{rdb: rdb}
}

func (f *Fanout) Publish(ctx context.Context, msg domain.RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := f.rdb.Publish(ctx, relayChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relay message: %w", err)
	}
	return nil
}

// Subscribe blocks until ctx is done. It fails only if the initial
// subscription cannot be confirmed.
func (f *Fanout) Subscribe(ctx context.Context, handle func(domain.RelayMessage)) error {
	pubsub := f.rdb.Subscribe(ctx, relayChannel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", relayChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var relay domain.RelayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relay); err != nil {
				slog.Warn("Dropping malformed relay message", "error", err)
				continue
			}
			handle(relay)
		case <-ctx.Done():
			return nil
		}
	}
}

// Close is a no-op; the client is owned by the caller.
func (f *Fanout) Close() error {
	return nil
}
