package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/broadcast"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/correlation"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout       = 5 * time.Second
	persistTimeout       = 3 * time.Second
	stopTimeout          = 10 * time.Second
	commandBufferSize    = 256
	idempotencyCacheSize = 20
)

// actorCmd is the command interface for the Actor.
type actorCmd interface{ isActorCmd() }

type baseActorCmd struct{}

func (baseActorCmd) isActorCmd() {}

type connectCmd struct {
	baseActorCmd
	connection broadcast.Conn
	reply      chan connectResult
}

type connectResult struct {
	id       uuid.UUID
	snapshot *domain.MatchLiveState
	err      error
}

type disconnectCmd struct {
	baseActorCmd
	id     uuid.UUID
	reason string
}

type applyCmd struct {
	baseActorCmd
	ctx   context.Context
	cmd   Command
	meta  commandMeta
	apply mutation
	reply chan applyResult
}

type applyResult struct {
	response Response
	err      error
}

type deleteCmd struct {
	baseActorCmd
	ctx   context.Context
	reply chan error
}

type snapshotCmd struct {
	baseActorCmd
	reply chan *domain.MatchLiveState
}

type adoptCmd struct {
	baseActorCmd
	event domain.Event
	reply chan bool
}

type statsCmd struct {
	baseActorCmd
	reply chan Stats
}

type idleCheckCmd struct {
	baseActorCmd
	generation int
}

type stopCmd struct {
	baseActorCmd
}

// Stats describes the viewers of one match on this instance.
type Stats struct {
	ConnectionCount int        `json:"connectionCount"`
	LastBroadcast   *time.Time `json:"lastBroadcast"`
	Revision        int64      `json:"revision"`
}

type actorConfig struct {
	store       domain.MatchStore
	clock       clockwork.Clock
	metrics     *metrics.ActorMetrics
	maxClients  int
	idleTimeout time.Duration

	// relay receives every locally originated broadcast.
	relay func(domain.Event)
	// onStopped is called on its own goroutine once the actor has exited.
	onStopped func(*Actor)
}

// Actor is the single owner of one match's live state. All fields below
// cmdCh are touched only by the run goroutine.
type Actor struct {
	id       int
	cfg      actorConfig
	logger   *slog.Logger
	cmdCh    chan actorCmd
	done     chan struct{}
	stopOnce sync.Once

	state         *domain.MatchLiveState
	registry      *broadcast.Registry
	idempotency   *idempotencyCache
	lastBroadcast *time.Time
	idleTimer     clockwork.Timer
	idleGen       int
	reported      int
}

func newActor(id int, state *domain.MatchLiveState, cfg actorConfig) *Actor {
	a := &Actor{
		id:          id,
		cfg:         cfg,
		logger:      logging.WithMatch(slog.Default(), id),
		cmdCh:       make(chan actorCmd, commandBufferSize),
		done:        make(chan struct{}),
		state:       state,
		idempotency: newIdempotencyCache(idempotencyCacheSize),
	}
	a.registry = broadcast.NewRegistry(broadcast.Options{
		Clock:      cfg.clock,
		MaxClients: cfg.maxClients,
		OnFailure: func(handle uuid.UUID) {
			_ = a.send(disconnectCmd{id: handle, reason: "write_failed"})
		},
		ObserveSend: func(d time.Duration) {
			cfg.metrics.SendDuration.Observe(d.Seconds())
		},
	})
	cfg.metrics.ActiveActors.Inc()
	a.armIdleTimer()
	go a.run()
	return a
}

func (a *Actor) ID() int {
	return a.id
}

// Connect registers a viewer and queues the current snapshot as its first
// message. The returned snapshot is a copy.
func (a *Actor) Connect(conn broadcast.Conn) (uuid.UUID, *domain.MatchLiveState, error) {
	reply := make(chan connectResult, 1)
	if err := a.send(connectCmd{connection: conn, reply: reply}); err != nil {
		return uuid.Nil, nil, err
	}
	res, err := await(context.Background(), a, reply)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return res.id, res.snapshot, res.err
}

// Disconnect removes a viewer. Unknown handles are ignored.
func (a *Actor) Disconnect(handle uuid.UUID) {
	_ = a.send(disconnectCmd{id: handle, reason: "client_closed"})
}

// Apply validates cmd and runs it through the actor. Validation happens on
// the caller's goroutine and never reaches the actor.
func (a *Actor) Apply(ctx context.Context, cmd Command) (Response, error) {
	meta, err := cmd.meta()
	if err != nil {
		return Response{}, err
	}
	apply, err := decodeMutation(cmd)
	if err != nil {
		return Response{}, err
	}

	reply := make(chan applyResult, 1)
	if err := a.send(applyCmd{ctx: ctx, cmd: cmd, meta: meta, apply: apply, reply: reply}); err != nil {
		return Response{}, err
	}
	res, err := await(ctx, a, reply)
	if err != nil {
		return Response{}, err
	}
	return res.response, res.err
}

// Delete removes the match from the store, tells every viewer and closes
// their connections.
func (a *Actor) Delete(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := a.send(deleteCmd{ctx: ctx, reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, a, reply)
	if err != nil {
		return err
	}
	return res
}

// Snapshot returns a copy of the current state, or ErrMatchNotFound.
func (a *Actor) Snapshot() (*domain.MatchLiveState, error) {
	reply := make(chan *domain.MatchLiveState, 1)
	if err := a.send(snapshotCmd{reply: reply}); err != nil {
		return nil, err
	}
	snapshot, err := await(context.Background(), a, reply)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, domain.ErrMatchNotFound
	}
	return snapshot, nil
}

// Adopt applies a broadcast produced elsewhere. Snapshots are taken only if
// their revision is newer; nothing is persisted or relayed.
func (a *Actor) Adopt(event domain.Event) (bool, error) {
	reply := make(chan bool, 1)
	if err := a.send(adoptCmd{event: event, reply: reply}); err != nil {
		return false, err
	}
	return await(context.Background(), a, reply)
}

func (a *Actor) Stats() (Stats, error) {
	reply := make(chan Stats, 1)
	if err := a.send(statsCmd{reply: reply}); err != nil {
		return Stats{}, err
	}
	return await(context.Background(), a, reply)
}

// Stop closes every viewer with a shutdown reason and waits for the actor
// to exit.
func (a *Actor) Stop() {
	if err := a.send(stopCmd{}); err != nil {
		return
	}

	timeout := a.cfg.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-a.done:
	case <-timeout.Chan():
		a.logger.Warn("Match actor stop timeout exceeded", "timeout", stopTimeout)
	}
}

// Done is closed once the actor has exited.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

func (a *Actor) send(cmd actorCmd) error {
	select {
	case <-a.done:
		return domain.ErrActorStopped
	default:
	}
	select {
	case a.cmdCh <- cmd:
		return nil
	case <-a.done:
		return domain.ErrActorStopped
	}
}

func await[T any](ctx context.Context, a *Actor, reply <-chan T) (T, error) {
	timer := a.cfg.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-a.done:
		// The actor may have replied just before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return zero, domain.ErrActorStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		a.cfg.metrics.CommandTimeouts.Inc()
		return zero, fmt.Errorf("match actor command timed out after %v", commandTimeout)
	}
}

func (a *Actor) run() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Match actor panic recovered", "panic", r)
			a.cfg.metrics.Panics.Inc()
			a.registry.CloseAll("internal error")
		}
		a.reportClients()
		a.cfg.metrics.ActiveActors.Dec()
		if a.cfg.onStopped != nil {
			go a.cfg.onStopped(a)
		}
	}()
	defer a.stopOnce.Do(func() { close(a.done) })

	for cmd := range a.cmdCh {
		switch c := cmd.(type) {
		case connectCmd:
			c.reply <- a.handleConnect(c)
		case disconnectCmd:
			a.handleDisconnect(c)
		case applyCmd:
			c.reply <- a.handleApply(c)
		case deleteCmd:
			c.reply <- a.handleDelete(c)
		case snapshotCmd:
			c.reply <- a.state.Clone()
		case adoptCmd:
			c.reply <- a.handleAdopt(c.event)
		case statsCmd:
			c.reply <- a.stats()
		case idleCheckCmd:
			if c.generation == a.idleGen && a.registry.Len() == 0 {
				a.logger.Debug("Stopping idle match actor")
				a.cfg.metrics.Reaped.Inc()
				return
			}
		case stopCmd:
			a.stopIdleTimer()
			a.registry.CloseAll(broadcast.ReasonShutdown)
			return
		default:
			a.logger.Warn("Match actor received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
		a.reportClients()
	}
}

func (a *Actor) handleConnect(c connectCmd) connectResult {
	if a.state == nil {
		return connectResult{err: domain.ErrMatchNotFound}
	}

	handle, err := a.registry.Add(c.connection)
	if err != nil {
		a.logger.Warn("Rejecting viewer: max clients reached", "max_clients", a.cfg.maxClients)
		a.cfg.metrics.EvictedClients.WithLabelValues("capacity").Inc()
		_ = c.connection.Close()
		return connectResult{err: err}
	}
	a.stopIdleTimer()

	data, err := json.Marshal(domain.Event{Type: domain.EventSnapshot, Match: a.state})
	if err != nil {
		a.registry.Remove(handle)
		return connectResult{err: apperrors.InternalError("failed to encode snapshot", err)}
	}
	a.registry.Send(handle, data)

	a.logger.Debug("Viewer connected", "handle_id", handle.String(), "total_clients", a.registry.Len())
	return connectResult{id: handle, snapshot: a.state.Clone()}
}

func (a *Actor) handleDisconnect(c disconnectCmd) {
	if !a.registry.Remove(c.id) {
		return
	}
	if c.reason == "write_failed" {
		a.cfg.metrics.EvictedClients.WithLabelValues("write_failed").Inc()
	}
	a.logger.Debug("Viewer disconnected", "handle_id", c.id.String(), "reason", c.reason, "remaining_clients", a.registry.Len())
	if a.registry.Len() == 0 {
		a.armIdleTimer()
	}
}

func (a *Actor) handleApply(c applyCmd) applyResult {
	start := a.cfg.clock.Now()
	ctx := correlation.Ensure(c.ctx)
	if err := ctx.Err(); err != nil {
		return applyResult{err: err}
	}

	if a.state == nil {
		a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultNotFound).Inc()
		return applyResult{err: domain.ErrMatchNotFound}
	}

	key := c.meta.IdempotencyKey
	if key != "" {
		if cached, ok := a.idempotency.get(key); ok {
			a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultDuplicate).Inc()
			return applyResult{response: cached}
		}
	}

	if c.meta.ExpectedRevision != nil && *c.meta.ExpectedRevision != a.state.Revision {
		a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultConflict).Inc()
		return applyResult{err: apperrors.ConflictError("revision mismatch").
			WithField("revision", a.state.Revision).
			WithField("expected_revision", *c.meta.ExpectedRevision)}
	}

	working := a.state.Clone()
	if err := c.apply(working, a.cfg.clock.Now()); err != nil {
		a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultRejected).Inc()
		return applyResult{err: err}
	}
	working.Revision = a.state.Revision + 1

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	err := a.cfg.store.Put(persistCtx, working)
	cancel()
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to persist match", "revision", working.Revision, "error", err)
		a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultPersist).Inc()
		return applyResult{err: apperrors.PersistenceError("failed to persist match", err).
			WithField("revision", a.state.Revision)}
	}

	a.state = working
	a.broadcast(domain.Event{Type: domain.EventBroadcastScore, Match: a.state}, true)

	response := Response{Resource: c.cmd.Resource, Action: c.cmd.Action, Status: http.StatusOK, Body: a.state.Clone()}
	if key != "" {
		a.idempotency.put(key, response)
	}

	a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultApplied).Inc()
	a.cfg.metrics.MutationDuration.Observe(a.cfg.clock.Since(start).Seconds())
	a.logger.DebugContext(ctx, "Mutation applied",
		"resource", c.cmd.Resource,
		"action", c.cmd.Action,
		"revision", a.state.Revision,
		"client_id", c.cmd.ClientID)
	return applyResult{response: response}
}

func (a *Actor) handleDelete(c deleteCmd) error {
	ctx := correlation.Ensure(c.ctx)
	if a.state == nil {
		return domain.ErrMatchNotFound
	}

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	_, err := a.cfg.store.Delete(persistCtx, a.id)
	cancel()
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to delete match", "error", err)
		return apperrors.PersistenceError("failed to delete match", err)
	}

	a.clearState()
	a.broadcast(domain.Event{Type: domain.EventDelete, MatchID: a.id}, true)
	a.registry.CloseAll(broadcast.ReasonDeleted)
	a.armIdleTimer()
	a.logger.InfoContext(ctx, "Match deleted")
	return nil
}

func (a *Actor) handleAdopt(event domain.Event) bool {
	switch event.Type {
	case domain.EventDelete:
		if a.state == nil {
			return false
		}
		a.clearState()
		a.broadcast(domain.Event{Type: domain.EventDelete, MatchID: a.id}, false)
		a.registry.CloseAll(broadcast.ReasonDeleted)
		a.armIdleTimer()
		a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultAdopted).Inc()
		return true
	case domain.EventBroadcastScore, domain.EventSnapshot:
		if event.Match == nil || event.Match.ID != a.id {
			return false
		}
		// A nil state is a deletion; late broadcasts must not restore it.
		if a.state == nil || event.Match.Revision <= a.state.Revision {
			a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultStaleRelay).Inc()
			return false
		}
		incoming := event.Match.Clone()
		incoming.Normalize()
		a.state = incoming
		a.broadcast(domain.Event{Type: domain.EventBroadcastScore, Match: a.state}, false)
		a.cfg.metrics.Mutations.WithLabelValues(metrics.ResultAdopted).Inc()
		return true
	default:
		return false
	}
}

func (a *Actor) clearState() {
	a.state = nil
	a.idempotency = newIdempotencyCache(idempotencyCacheSize)
}

// broadcast serializes event once and queues it for every viewer. With
// relay set the event is also handed to the cross-instance relay.
func (a *Actor) broadcast(event domain.Event, relay bool) {
	data, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("Failed to marshal broadcast event", "type", event.Type, "error", err)
		return
	}

	for _, handle := range a.registry.Broadcast(data) {
		a.logger.Warn("Disconnecting slow viewer", "handle_id", handle.String())
		a.cfg.metrics.EvictedClients.WithLabelValues("slow").Inc()
	}
	if a.registry.Len() == 0 {
		a.armIdleTimer()
	}

	now := a.cfg.clock.Now()
	a.lastBroadcast = &now

	if relay && a.cfg.relay != nil {
		event.Match = event.Match.Clone()
		a.cfg.relay(event)
	}
}

func (a *Actor) stats() Stats {
	s := Stats{ConnectionCount: a.registry.Len()}
	if a.lastBroadcast != nil {
		t := *a.lastBroadcast
		s.LastBroadcast = &t
	}
	if a.state != nil {
		s.Revision = a.state.Revision
	}
	return s
}

// armIdleTimer schedules an idle check. Any earlier timer is superseded.
func (a *Actor) armIdleTimer() {
	if a.cfg.idleTimeout <= 0 {
		return
	}
	if a.idleTimer != nil {
		return
	}
	a.idleGen++
	generation := a.idleGen
	a.idleTimer = a.cfg.clock.AfterFunc(a.cfg.idleTimeout, func() {
		_ = a.send(idleCheckCmd{generation: generation})
	})
}

func (a *Actor) stopIdleTimer() {
	if a.idleTimer == nil {
		return
	}
	a.idleTimer.Stop()
	a.idleTimer = nil
	a.idleGen++
}

func (a *Actor) reportClients() {
	n := a.registry.Len()
	if delta := n - a.reported; delta != 0 {
		a.cfg.metrics.ConnectedClients.Add(float64(delta))
		a.reported = n
	}
}

// idempotencyCache keeps the responses of the most recent keyed mutations.
type idempotencyCache struct {
	size    int
	order   []string
	entries map[string]Response
}

func newIdempotencyCache(size int) *idempotencyCache {
	return &idempotencyCache{size: size, entries: make(map[string]Response, size)}
}

func (c *idempotencyCache) get(key string) (Response, bool) {
	r, ok := c.entries[key]
	return r, ok
}

func (c *idempotencyCache) put(key string, r Response) {
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = r
	for len(c.order) > c.size {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}
