// Package guard decorates a domain.MatchStore with a circuit breaker and
// with Prometheus instrumentation.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// ErrUnavailable is returned without touching the backend while the
// breaker is open.
var ErrUnavailable = errors.New("match store unavailable")

// BreakerSettings tunes the breaker. The zero value uses the defaults.
type BreakerSettings struct {
	FailureRate   float64
	MinExecutions uint
	Window        time.Duration
	Delay         time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureRate <= 0 {
		s.FailureRate = 0.6
	}
	if s.MinExecutions == 0 {
		s.MinExecutions = 5
	}
	if s.Window <= 0 {
		s.Window = 10 * time.Second
	}
	if s.Delay <= 0 {
		s.Delay = 30 * time.Second
	}
	return s
}

// BreakerStore fails fast while the backend keeps failing. ErrMatchNotFound
// counts as a success.
type BreakerStore struct {
	next domain.MatchStore
	cb   circuitbreaker.CircuitBreaker[any]
}

var _ domain.MatchStore = (*BreakerStore)(nil)

// WithBreaker wraps next. m may be nil.
func WithBreaker(next domain.MatchStore, settings BreakerSettings, m *metrics.StoreMetrics) *BreakerStore {
	settings = settings.withDefaults()
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(settings.FailureRate, settings.MinExecutions, settings.Window).
		WithDelay(settings.Delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "match_store",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if m != nil {
				m.BreakerState.Set(stateToFloat(e.NewState))
			}
		}).
		Build()

	return &BreakerStore{next: next, cb: cb}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// State reports the breaker state.
func (s *BreakerStore) State() circuitbreaker.State {
	return s.cb.State()
}

func guarded[T any](s *BreakerStore, fn func() (T, error)) (T, error) {
	if !s.cb.TryAcquirePermit() {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, circuitbreaker.ErrOpen)
	}
	v, err := fn()
	if err != nil && !errors.Is(err, domain.ErrMatchNotFound) {
		s.cb.RecordError(err)
	} else {
		s.cb.RecordSuccess()
	}
	return v, err
}

func (s *BreakerStore) Get(ctx context.Context, id int) (*domain.MatchLiveState, error) {
	return guarded(s, func() (*domain.MatchLiveState, error) { return s.next.Get(ctx, id) })
}

func (s *BreakerStore) Put(ctx context.Context, match *domain.MatchLiveState) error {
	_, err := guarded(s, func() (struct{}, error) { return struct{}{}, s.next.Put(ctx, match) })
	return err
}

func (s *BreakerStore) Delete(ctx context.Context, id int) (bool, error) {
	return guarded(s, func() (bool, error) { return s.next.Delete(ctx, id) })
}

func (s *BreakerStore) List(ctx context.Context) ([]domain.MatchSummary, error) {
	return guarded(s, func() ([]domain.MatchSummary, error) { return s.next.List(ctx) })
}

func (s *BreakerStore) Create(ctx context.Context, match *domain.MatchLiveState) (int, error) {
	return guarded(s, func() (int, error) { return s.next.Create(ctx, match) })
}

func (s *BreakerStore) Ping(ctx context.Context) error {
	_, err := guarded(s, func() (struct{}, error) { return struct{}{}, s.next.Ping(ctx) })
	return err
}
