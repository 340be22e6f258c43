package viewer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/client/poller"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/client/pushchannel"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/jonboulle/clockwork"
)

// PushChannel is the part of *pushchannel.Client a Session drives.
type PushChannel interface {
	Connect(opts pushchannel.ConnectOptions)
	Disconnect()
	OnStatus(fn func(pushchannel.Status)) (unsubscribe func())
	OnMessage(fn func(pushchannel.Message)) (unsubscribe func())
}

type SessionOptions struct {
	MatchID   int
	SetNumber int

	// Push is nil when the push channel is unavailable; the session then
	// polls for its whole lifetime.
	Push         PushChannel
	Fetcher      poller.Fetcher
	PollInterval time.Duration
	Clock        clockwork.Clock
	Logger       *slog.Logger

	// OnUpdate receives every snapshot the viewer applies.
	OnUpdate func(*domain.MatchLiveState)
}

// Session follows one match. Push and poll both feed the same Viewer; the
// poller runs only while the push channel is absent or degraded.
type Session struct {
	opts   SessionOptions
	viewer *Viewer
	poller *poller.Poller
	logger *slog.Logger

	mu          sync.Mutex
	ctx         context.Context
	started     bool
	finished    bool
	err         error
	done        chan struct{}
	unsubscribe []func()
}

func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Session{
		opts:   opts,
		viewer: NewViewer(opts.OnUpdate),
		logger: opts.Logger.With("match_id", opts.MatchID),
		done:   make(chan struct{}),
	}
	s.poller = poller.New(poller.Options{
		Fetcher:  opts.Fetcher,
		MatchID:  opts.MatchID,
		Interval: opts.PollInterval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		OnSnapshot: func(m *domain.MatchLiveState) {
			s.viewer.Apply(m)
		},
		OnNotFound: func() { s.finish(domain.ErrMatchNotFound) },
	})
	return s
}

func (s *Session) Viewer() *Viewer {
	return s.viewer
}

// Start begins following the match. ctx bounds polling.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	if s.opts.Push == nil {
		s.logger.Info("No push channel, polling for updates")
		s.startPolling()
		return nil
	}

	unsubStatus := s.opts.Push.OnStatus(s.handleStatus)
	unsubMessage := s.opts.Push.OnMessage(s.handleMessage)
	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, unsubStatus, unsubMessage)
	s.mu.Unlock()

	s.opts.Push.Connect(pushchannel.ConnectOptions{MatchID: s.opts.MatchID, SetNumber: s.opts.SetNumber})
	return nil
}

// Stop ends the session without an error.
func (s *Session) Stop() {
	s.finish(nil)
}

// Done is closed when the session ends, by Stop or because the match no
// longer exists.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is domain.ErrMatchNotFound after the match disappeared, else nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Polling reports whether the fallback poller is running.
func (s *Session) Polling() bool {
	return s.poller.Running()
}

func (s *Session) handleStatus(st pushchannel.Status) {
	if s.isFinished() {
		return
	}
	switch {
	case st.State == pushchannel.StateConnected:
		if s.poller.Running() {
			s.logger.Info("Push channel restored, polling stopped")
		}
		s.poller.Stop()
	case st.Degraded():
		if !s.poller.Running() {
			s.logger.Info("Push channel degraded, polling for updates", "status", string(st.State))
		}
		s.startPolling()
	}
}

func (s *Session) handleMessage(msg pushchannel.Message) {
	if s.isFinished() {
		return
	}
	switch msg.Type {
	case domain.EventSnapshot, domain.EventBroadcastScore:
		if msg.Match == nil || msg.Match.ID != s.opts.MatchID {
			return
		}
		s.viewer.Apply(msg.Match)
	case domain.EventDelete:
		if msg.MatchID == s.opts.MatchID {
			s.finish(domain.ErrMatchNotFound)
		}
	default:
		if msg.IsResponse() && msg.Status >= 300 {
			s.logger.Warn("Command rejected", "resource", msg.Resource, "action", msg.Action, "status", msg.Status)
		}
	}
}

func (s *Session) startPolling() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.poller.Start(ctx); errors.Is(err, domain.ErrMatchNotFound) {
		s.finish(err)
	}
}

func (s *Session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// finish tears both producers down once. A not-found err is terminal for
// the session.
func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	if s.opts.Push != nil {
		s.opts.Push.Disconnect()
	}
	s.poller.Stop()

	if errors.Is(err, domain.ErrMatchNotFound) {
		s.logger.Warn("Match not found, session ended")
	}
	close(s.done)
}
