package guard

import (
	"context"
	"errors"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
)

// InstrumentedStore records the outcome and latency of every operation.
type InstrumentedStore struct {
	next    domain.MatchStore
	backend string
	metrics *metrics.StoreMetrics
}

var _ domain.MatchStore = (*InstrumentedStore)(nil)

func WithMetrics(next domain.MatchStore, backend string, m *metrics.StoreMetrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, backend: backend, metrics: m}
}

func (s *InstrumentedStore) observe(operation string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrMatchNotFound):
		result = "not_found"
	case errors.Is(err, ErrUnavailable):
		result = "rejected"
	default:
		result = "error"
	}
	s.metrics.Operations.WithLabelValues(s.backend, operation, result).Inc()
	s.metrics.OperationDuration.WithLabelValues(s.backend, operation).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStore) Get(ctx context.Context, id int) (*domain.MatchLiveState, error) {
	start := time.Now()
	m, err := s.next.Get(ctx, id)
	s.observe("get", start, err)
	return m, err
}

func (s *InstrumentedStore) Put(ctx context.Context, match *domain.MatchLiveState) error {
	start := time.Now()
	err := s.next.Put(ctx, match)
	s.observe("put", start, err)
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, id int) (bool, error) {
	start := time.Now()
	deleted, err := s.next.Delete(ctx, id)
	s.observe("delete", start, err)
	return deleted, err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]domain.MatchSummary, error) {
	start := time.Now()
	list, err := s.next.List(ctx)
	s.observe("list", start, err)
	return list, err
}

func (s *InstrumentedStore) Create(ctx context.Context, match *domain.MatchLiveState) (int, error) {
	start := time.Now()
	id, err := s.next.Create(ctx, match)
	s.observe("create", start, err)
	return id, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe("ping", start, err)
	return err
}
