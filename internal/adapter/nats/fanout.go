// Package nats relays match broadcasts between instances over core NATS
// subjects, one subject per match.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "volleyball.relay."

func subject(matchID int) string {
	return subjectPrefix + strconv.Itoa(matchID)
}

type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Fanout implements domain.Fanout.
type Fanout struct {
	nc *nats.Conn
}

func Connect(cfg Config) (*Fanout, error) {
	opts := []nats.Option{
		nats.Name("volleyball-live"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Fanout{nc: nc}, nil
}

func (f *Fanout) Publish(_ context.Context, msg domain.RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	if err := f.nc.Publish(subject(msg.MatchID), data); err != nil {
		return fmt.Errorf("publish relay message: %w", err)
	}
	return nil
}

// Subscribe listens on every match subject until ctx is done.
func (f *Fanout) Subscribe(ctx context.Context, handle func(domain.RelayMessage)) error {
	ch := make(chan *nats.Msg, 256)
	sub, err := f.nc.ChanSubscribe(subjectPrefix+">", ch)
	if err != nil {
		return fmt.Errorf("subscribe to relay subjects: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := f.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}

	for {
		select {
		case msg := <-ch:
			var relay domain.RelayMessage
			if err := json.Unmarshal(msg.Data, &relay); err != nil {
				slog.Warn("Dropping malformed relay message", "subject", msg.Subject, "error", err)
				continue
			}
			handle(relay)
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *Fanout) Close() error {
	return f.nc.Drain()
}

// Ping round-trips to the server.
func (f *Fanout) Ping(ctx context.Context) error {
	if !f.nc.IsConnected() {
		return fmt.Errorf("nats connection is %s", f.nc.Status())
	}
	if err := f.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}
