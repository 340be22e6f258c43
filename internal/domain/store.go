package domain

import "context"

// MatchStore is the durable Match Record Store.
//
// Get returns ErrMatchNotFound for unknown ids. Put writes the full record,
// including its revision. List is ordered by date, then opponent, then id.
type MatchStore interface {
	Get(ctx context.Context, id int) (*MatchLiveState, error)
	Put(ctx context.Context, match *MatchLiveState) error
	Delete(ctx context.Context, id int) (bool, error)
	List(ctx context.Context) ([]MatchSummary, error)
	Create(ctx context.Context, match *MatchLiveState) (int, error)
	Ping(ctx context.Context) error
}
