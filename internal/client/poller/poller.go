// Package poller keeps a viewer up to date by fetching the full match
// snapshot on a fixed interval. It is the fallback when no push channel is
// available.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval = 15 * time.Second
	fetchTimeout    = 10 * time.Second
)

type Options struct {
	Fetcher  Fetcher
	MatchID  int
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger

	// OnSnapshot receives each fetched snapshot whose revision differs
	// from the last one delivered. It runs on the polling goroutine and
	// must not call Stop.
	OnSnapshot func(*domain.MatchLiveState)

	// OnNotFound is called once when the match no longer exists. Polling
	// has already stopped when it runs.
	OnNotFound func()
}

// Poller fetches immediately on Start and then once per interval until
// stopped. A not-found response ends polling for good.
type Poller struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	running     bool
	notFound    bool
	delivered   bool
	lastApplied int64
	wg          sync.WaitGroup
}

func New(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		opts:   opts,
		logger: opts.Logger.With("match_id", opts.MatchID),
	}
}

// Start begins polling. It is a no-op while running and returns
// domain.ErrMatchNotFound once the match has been reported missing.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notFound {
		return domain.ErrMatchNotFound
	}
	if p.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	ticker := p.opts.Clock.NewTicker(p.opts.Interval)

	p.wg.Add(1)
	go func() {
		missing := p.run(ctx, ticker)
		ticker.Stop()
		p.wg.Done()
		if missing && p.opts.OnNotFound != nil {
			p.opts.OnNotFound()
		}
	}()

	p.logger.Debug("Polling started", "interval", p.opts.Interval)
	return nil
}

// Stop ends polling and waits for an in-flight fetch to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.running = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
		p.logger.Debug("Polling stopped")
	}
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastRevision is the revision of the last delivered snapshot.
func (p *Poller) LastRevision() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastApplied, p.delivered
}

// run reports whether polling ended because the match is gone.
func (p *Poller) run(ctx context.Context, ticker clockwork.Ticker) bool {
	for {
		if p.poll(ctx) {
			p.mu.Lock()
			p.notFound = true
			p.running = false
			cancel := p.cancel
			p.cancel = nil
			p.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.Chan():
		}
	}
}

// poll fetches once and reports whether the match was not found.
func (p *Poller) poll(ctx context.Context) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	match, err := p.opts.Fetcher.Fetch(fetchCtx, p.opts.MatchID)
	if err != nil {
		if errors.Is(err, domain.ErrMatchNotFound) {
			p.logger.Info("Match not found, polling stopped")
			return true
		}
		if ctx.Err() == nil {
			p.logger.Warn("Snapshot poll failed", "error", err)
		}
		return false
	}

	p.mu.Lock()
	changed := !p.delivered || match.Revision != p.lastApplied
	if changed {
		p.delivered = true
		p.lastApplied = match.Revision
	}
	p.mu.Unlock()

	if changed && p.opts.OnSnapshot != nil {
		p.opts.OnSnapshot(match)
	}
	return false
}
