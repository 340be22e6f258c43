package domain

import "context"

// RelayMessage carries one broadcast between instances hosting the same match.
type RelayMessage struct {
	Origin  string `json:"origin"`
	MatchID int    `json:"matchId"`
	Event   Event  `json:"event"`
}

// Fanout relays broadcasts to other instances. Subscribe blocks until ctx is
// cancelled and calls handle for every message received.
type Fanout interface {
	Publish(ctx context.Context, msg RelayMessage) error
	Subscribe(ctx context.Context, handle func(RelayMessage)) error
	Close() error
}
