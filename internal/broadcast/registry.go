package broadcast

import (
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Close reasons sent to viewers in the close frame.
const (
	ReasonSlowClient = "client too slow"
	ReasonShutdown   = "server shutting down"
	ReasonDeleted    = "match deleted"
)

// Options configures a Registry. Zero values fall back to defaults.
type Options struct {
	Clock      clockwork.Clock
	MaxClients int

	// OnFailure is called, on its own goroutine, when a write to a viewer
	// fails. The owner is expected to Remove the handle in response.
	OnFailure func(id uuid.UUID)

	// ObserveSend receives the duration of every successful write.
	ObserveSend func(time.Duration)
}

// Registry tracks the live viewer connections of one match.
type Registry struct {
	opts    Options
	clients map[uuid.UUID]*clientWriter
}

func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Registry{
		opts:    opts,
		clients: make(map[uuid.UUID]*clientWriter),
	}
}

// Add registers conn and starts its writer. The returned handle id is used
// for every later operation on the connection.
func (r *Registry) Add(conn Conn) (uuid.UUID, error) {
	if r.opts.MaxClients > 0 && len(r.clients) >= r.opts.MaxClients {
		return uuid.Nil, domain.ErrTooManyClients
	}
	id := uuid.New()
	r.clients[id] = newClientWriter(id, conn, r.opts.Clock, r.opts.OnFailure, r.opts.ObserveSend)
	return id, nil
}

// Send queues data for a single handle. It returns false if the handle is
// unknown or its buffer is full.
func (r *Registry) Send(id uuid.UUID, data []byte) bool {
	cw, ok := r.clients[id]
	if !ok {
		return false
	}
	return cw.enqueue(data)
}

// Remove stops the writer and closes the connection. Removing an unknown
// handle is a no-op that returns false.
func (r *Registry) Remove(id uuid.UUID) bool {
	cw, ok := r.clients[id]
	if !ok {
		return false
	}
	delete(r.clients, id)
	cw.stop()
	return true
}

// Broadcast queues data for every handle. Handles whose buffer is full are
// removed and returned; their close frame is written in the background so a
// stalled write cannot hold up the caller.
func (r *Registry) Broadcast(data []byte) []uuid.UUID {
	var evicted []uuid.UUID
	for id, cw := range r.clients {
		if cw.enqueue(data) {
			continue
		}
		delete(r.clients, id)
		go cw.stopGraceful(ReasonSlowClient, false)
		evicted = append(evicted, id)
	}
	return evicted
}

func (r *Registry) Len() int {
	return len(r.clients)
}

func (r *Registry) Has(id uuid.UUID) bool {
	_, ok := r.clients[id]
	return ok
}

// CloseAll flushes pending messages, sends a close frame with reason to
// every viewer and empties the registry.
func (r *Registry) CloseAll(reason string) {
	for id, cw := range r.clients {
		delete(r.clients, id)
		cw.stopGraceful(reason, true)
	}
}
