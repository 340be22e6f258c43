package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/broadcast"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	relayTimeout    = 2 * time.Second
	relayBufferSize = 64
	hydrateTimeout  = 5 * time.Second
)

// Config wires a Manager. Fanout and FanoutMetrics may be nil.
type Config struct {
	Store         domain.MatchStore
	Clock         clockwork.Clock
	Metrics       *metrics.ActorMetrics
	FanoutMetrics *metrics.FanoutMetrics
	Fanout        domain.Fanout
	MaxClients    int
	IdleTimeout   time.Duration
}

// Manager owns the actors of this instance, at most one per match id.
type Manager struct {
	cfg        Config
	instanceID string
	hydrate    singleflight.Group

	mu     sync.Mutex
	actors map[int]*Actor
	closed bool
}

// Handle identifies one viewer connection.
type Handle struct {
	MatchID int
	ID      uuid.UUID
	actor   *Actor
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		actors:     make(map[int]*Actor),
	}
}

// InstanceID identifies this process in relay messages.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Execute routes a command and always produces a response; failures are
// mapped to their status code. boundMatchID is used when the payload does
// not name a match.
func (m *Manager) Execute(ctx context.Context, boundMatchID int, cmd Command) Response {
	resp, err := m.execute(ctx, boundMatchID, cmd)
	if err != nil {
		return ErrorResponse(cmd, err)
	}
	return resp
}

func (m *Manager) execute(ctx context.Context, boundMatchID int, cmd Command) (Response, error) {
	meta, err := cmd.meta()
	if err != nil {
		return Response{}, err
	}
	reply := func(status int, body any) (Response, error) {
		return Response{Resource: cmd.Resource, Action: cmd.Action, Status: status, Body: body}, nil
	}

	if cmd.Resource == ResourceMatch {
		switch {
		case cmd.Action == ActionCreate:
			id, err := m.Create(ctx, cmd.Payload)
			if err != nil {
				return Response{}, err
			}
			return reply(http.StatusCreated, map[string]int{"id": id})
		case cmd.Action == ActionGet && !meta.MatchID.Valid:
			list, err := m.List(ctx)
			if err != nil {
				return Response{}, err
			}
			return reply(http.StatusOK, list)
		}
	}

	matchID := boundMatchID
	if meta.MatchID.Valid {
		matchID = meta.MatchID.Value
	}
	if matchID <= 0 {
		return Response{}, apperrors.ValidationError("matchId must be a positive integer").WithField("field", "matchId")
	}

	switch {
	case cmd.Action == ActionGet:
		snapshot, err := m.Snapshot(ctx, matchID)
		if err != nil {
			return Response{}, err
		}
		if cmd.Resource == ResourceSet {
			body, err := setBody(snapshot, cmd.Payload)
			if err != nil {
				return Response{}, err
			}
			return reply(http.StatusOK, body)
		}
		return reply(http.StatusOK, snapshot)
	case cmd.Resource == ResourceMatch && cmd.Action == ActionDelete:
		if err := m.Delete(ctx, matchID); err != nil {
			return Response{}, err
		}
		return reply(http.StatusOK, map[string]any{"id": matchID, "deleted": true})
	default:
		return m.Apply(ctx, matchID, cmd)
	}
}

func setBody(snapshot *domain.MatchLiveState, payload []byte) (any, error) {
	var p struct {
		SetNumber flexInt `json:"setNumber"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if !p.SetNumber.Valid {
		return map[string]any{"matchId": snapshot.ID, "sets": snapshot.Sets, "finalizedSets": snapshot.FinalizedSets}, nil
	}
	n, err := decodeSetNumber(p.SetNumber)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"matchId":   snapshot.ID,
		"setNumber": n,
		"set":       snapshot.Sets[n],
		"finalized": snapshot.FinalizedSets[n],
	}, nil
}

// Create stores a new match at revision 1 and returns its id. The payload
// may carry initial metadata.
func (m *Manager) Create(ctx context.Context, payload []byte) (int, error) {
	var p struct {
		Date            string              `json:"date"`
		Location        string              `json:"location"`
		Opponent        string              `json:"opponent"`
		Types           map[string]flexBool `json:"types"`
		JerseyColorHome string              `json:"jerseyColorHome"`
		JerseyColorOpp  string              `json:"jerseyColorOpp"`
		FirstServer     string              `json:"firstServer"`
		Players         []rosterPayload     `json:"players"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return 0, err
	}

	match := domain.NewMatch(0)
	match.Date = p.Date
	match.Location = p.Location
	match.Opponent = p.Opponent
	match.JerseyColorHome = p.JerseyColorHome
	match.JerseyColorOpp = p.JerseyColorOpp
	match.FirstServer = p.FirstServer
	for k, v := range p.Types {
		match.Types[k] = bool(v)
	}
	for _, rp := range p.Players {
		entry, err := rp.entry()
		if err != nil {
			return 0, err
		}
		if match.RosterIndex(entry.PlayerID) < 0 {
			match.Roster = append(match.Roster, entry)
		}
	}
	match.Revision = 1

	id, err := m.cfg.Store.Create(ctx, match)
	if err != nil {
		return 0, apperrors.PersistenceError("failed to create match", err)
	}
	slog.InfoContext(ctx, "Match created", "match_id", id)
	return id, nil
}

func (m *Manager) List(ctx context.Context) ([]domain.MatchSummary, error) {
	list, err := m.cfg.Store.List(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list matches", err)
	}
	return list, nil
}

// Snapshot returns a copy of the live state of id.
func (m *Manager) Snapshot(ctx context.Context, id int) (*domain.MatchLiveState, error) {
	var snapshot *domain.MatchLiveState
	err := m.withActor(ctx, id, func(a *Actor) error {
		var err error
		snapshot, err = a.Snapshot()
		return err
	})
	return snapshot, err
}

// Apply runs a mutation command against match id.
func (m *Manager) Apply(ctx context.Context, id int, cmd Command) (Response, error) {
	var resp Response
	err := m.withActor(ctx, id, func(a *Actor) error {
		var err error
		resp, err = a.Apply(ctx, cmd)
		return err
	})
	return resp, err
}

func (m *Manager) Delete(ctx context.Context, id int) error {
	return m.withActor(ctx, id, func(a *Actor) error {
		return a.Delete(ctx)
	})
}

// Connect registers conn as a viewer of match id. The current snapshot is
// queued to conn before Connect returns.
func (m *Manager) Connect(ctx context.Context, id int, conn broadcast.Conn) (Handle, *domain.MatchLiveState, error) {
	var (
		handle   Handle
		snapshot *domain.MatchLiveState
	)
	err := m.withActor(ctx, id, func(a *Actor) error {
		handleID, snap, err := a.Connect(conn)
		if err != nil {
			return err
		}
		handle = Handle{MatchID: id, ID: handleID, actor: a}
		snapshot = snap
		return nil
	})
	return handle, snapshot, err
}

// Disconnect removes a viewer. It is safe to call more than once.
func (m *Manager) Disconnect(h Handle) {
	if h.actor == nil {
		return
	}
	h.actor.Disconnect(h.ID)
}

// Adopt forwards a broadcast produced elsewhere to the local actor of its
// match. Unknown matches are ignored.
func (m *Manager) Adopt(ctx context.Context, event domain.Event) (bool, error) {
	id := event.MatchID
	if event.Match != nil {
		id = event.Match.ID
	}
	if id <= 0 {
		return false, apperrors.ValidationError("event does not name a match")
	}

	var adopted bool
	err := m.withActor(ctx, id, func(a *Actor) error {
		var err error
		adopted, err = a.Adopt(event)
		return err
	})
	if errors.Is(err, domain.ErrMatchNotFound) {
		return false, nil
	}
	return adopted, err
}

// Stats reports viewers of id on this instance without loading the match.
func (m *Manager) Stats(id int) (Stats, error) {
	a := m.loaded(id)
	if a == nil {
		return Stats{}, nil
	}
	stats, err := a.Stats()
	if errors.Is(err, domain.ErrActorStopped) {
		return Stats{}, nil
	}
	return stats, err
}

// ActiveActors returns the number of actors currently held.
func (m *Manager) ActiveActors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Shutdown stops every actor, closing their viewers with a shutdown reason.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[int]*Actor)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Stop()
		}()
	}
	wg.Wait()
	slog.Info("Match actors stopped", "count", len(actors))
}

// withActor runs fn against the actor for id. An actor that stopped between
// lookup and use is dropped and fn is retried once on a fresh one.
func (m *Manager) withActor(ctx context.Context, id int, fn func(*Actor) error) error {
	for range 2 {
		a, err := m.actor(ctx, id)
		if err != nil {
			return err
		}
		err = fn(a)
		if !errors.Is(err, domain.ErrActorStopped) {
			return err
		}
		m.forget(a)
	}
	return domain.ErrActorStopped
}

func (m *Manager) loaded(id int) *Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actors[id]
}

func (m *Manager) actor(ctx context.Context, id int) (*Actor, error) {
	if a := m.loaded(id); a != nil {
		return a, nil
	}

	v, err, _ := m.hydrate.Do(strconv.Itoa(id), func() (any, error) {
		if a := m.loaded(id); a != nil {
			return a, nil
		}

		// Shared by every caller waiting on this id, so no single caller's
		// cancellation applies.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hydrateTimeout)
		defer cancel()
		state, err := m.cfg.Store.Get(loadCtx, id)
		if errors.Is(err, domain.ErrMatchNotFound) || (err == nil && state == nil) {
			return nil, domain.ErrMatchNotFound
		}
		if err != nil {
			return nil, apperrors.InternalError("failed to load match", err).WithField("match_id", id)
		}
		state.Normalize()

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, domain.ErrActorStopped
		}
		cfg := actorConfig{
			store:       m.cfg.Store,
			clock:       m.cfg.Clock,
			metrics:     m.cfg.Metrics,
			maxClients:  m.cfg.MaxClients,
			idleTimeout: m.cfg.IdleTimeout,
			onStopped:   m.forget,
		}
		if m.cfg.Fanout != nil {
			p := m.newPublisher(id)
			cfg.relay = p.enqueue
			cfg.onStopped = func(a *Actor) {
				m.forget(a)
				p.close()
			}
		}
		a := newActor(id, state, cfg)
		m.actors[id] = a
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Actor), nil
}

// forget drops a if it is still the registered actor for its match.
func (m *Manager) forget(a *Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actors[a.id] == a {
		delete(m.actors, a.id)
	}
}

// publisher relays one actor's broadcasts in the order the actor produced
// them, so peers never see a delete ahead of the score before it.
type publisher struct {
	m       *Manager
	matchID int
	events  chan domain.Event
	done    chan struct{}
}

func (m *Manager) newPublisher(id int) *publisher {
	p := &publisher{
		m:       m,
		matchID: id,
		events:  make(chan domain.Event, relayBufferSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// enqueue is called from the actor goroutine and never blocks it.
func (p *publisher) enqueue(event domain.Event) {
	select {
	case p.events <- event:
	default:
		slog.Warn("Relay queue full, dropping broadcast", "match_id", p.matchID, "type", event.Type)
		p.count("dropped")
	}
}

// close publishes what is queued, then returns. The actor must have exited.
func (p *publisher) close() {
	close(p.events)
	<-p.done
}

func (p *publisher) run() {
	defer close(p.done)
	for event := range p.events {
		msg := domain.RelayMessage{Origin: p.m.instanceID, MatchID: p.matchID, Event: event}
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		err := p.m.cfg.Fanout.Publish(ctx, msg)
		cancel()

		if err != nil {
			slog.Warn("Failed to relay broadcast", "match_id", p.matchID, "error", err)
			p.count("error")
			continue
		}
		p.count("ok")
	}
}

func (p *publisher) count(result string) {
	if p.m.cfg.FanoutMetrics != nil {
		p.m.cfg.FanoutMetrics.Published.WithLabelValues(result).Inc()
	}
}

// RunRelay consumes broadcasts from other instances until ctx is done.
// Only matches with a local actor take part; the rest have no local viewers.
func (m *Manager) RunRelay(ctx context.Context) error {
	if m.cfg.Fanout == nil {
		return nil
	}
	err := m.cfg.Fanout.Subscribe(ctx, func(msg domain.RelayMessage) {
		m.receiveRelay(msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("relay subscription ended: %w", err)
	}
	return nil
}

func (m *Manager) receiveRelay(msg domain.RelayMessage) {
	outcome := m.relayOutcome(msg)
	if m.cfg.FanoutMetrics != nil {
		m.cfg.FanoutMetrics.Received.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) relayOutcome(msg domain.RelayMessage) string {
	if msg.Origin == m.instanceID {
		return "own"
	}
	a := m.loaded(msg.MatchID)
	if a == nil {
		return "no_viewers"
	}
	adopted, err := a.Adopt(msg.Event)
	switch {
	case err != nil:
		slog.Warn("Failed to adopt relayed broadcast", "match_id", msg.MatchID, "error", err)
		return "error"
	case adopted:
		return "adopted"
	default:
		return "stale"
	}
}
