// Package pushchannel is the viewer side of the live score push channel. A
// Client keeps one connection to a match open across transient failures,
// queues outbound commands while offline and reports every transition to
// its listeners.
package pushchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultMaxReconnectAttempts = 10
	DefaultBaseDelay            = 500 * time.Millisecond
	DefaultMaxDelay             = 8 * time.Second
)

var ErrClosed = errors.New("push channel client closed")

type Options struct {
	// URL is the push channel endpoint without query, see LiveScoreURL.
	URL    string
	Dialer Dialer
	Clock  clockwork.Clock
	Logger *slog.Logger

	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
}

// ConnectOptions selects the match to follow. Non-positive ids are left out
// of the connect URL. A zero MaxReconnectAttempts keeps the current limit;
// any other value is clamped to at least 1.
type ConnectOptions struct {
	MatchID              int
	SetNumber            int
	MaxReconnectAttempts int
}

type statusListener struct {
	id int
	fn func(Status)
}

type messageListener struct {
	id int
	fn func(Message)
}

// Client is safe for concurrent use. Listeners are invoked one at a time,
// in transition order, on a goroutine owned by the client.
type Client struct {
	opts     Options
	clientID string
	logger   *slog.Logger
	dispatch *dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	status      Status
	maxAttempts int
	matchID     int
	setNumber   int
	attempts    int
	manual      bool
	queue       [][]byte

	// generation invalidates dials and read loops that belong to a
	// transport the client has given up on.
	generation uint64
	transport  Transport
	dialing    bool
	cancelDial context.CancelFunc

	timer    clockwork.Timer
	timerSeq uint64

	nextListenerID   int
	statusListeners  []statusListener
	messageListeners []messageListener
}

func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("push channel url is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	clientID := uuid.NewString()
	return &Client{
		opts:        opts,
		clientID:    clientID,
		logger:      opts.Logger.With("client_id", clientID),
		dispatch:    newDispatcher(),
		ctx:         ctx,
		cancel:      cancel,
		status:      Status{State: StateDisconnected},
		maxAttempts: max(1, opts.MaxReconnectAttempts),
	}, nil
}

// ClientID is the identifier attached to every outbound message.
func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.clone()
}

// Queued returns the number of messages waiting for a connection.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connect starts following a match. It is a no-op while a connection to the
// same match and set is open or being dialed; a different target replaces
// that connection. Called after a failure it starts a fresh cycle of
// reconnect attempts.
func (c *Client) Connect(opts ConnectOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if opts.MaxReconnectAttempts != 0 {
		c.maxAttempts = max(1, opts.MaxReconnectAttempts)
	}
	matchID, setNumber := max(0, opts.MatchID), max(0, opts.SetNumber)
	retarget := matchID != c.matchID || setNumber != c.setNumber
	c.matchID, c.setNumber = matchID, setNumber

	if c.status.State == StateFailed {
		c.attempts = 0
	}
	c.stopTimerLocked()

	if retarget && (c.transport != nil || c.dialing) {
		c.logger.Info("Push channel switching match", "match_id", matchID, "set_number", setNumber)
		c.dropConnectionLocked()
		c.attempts = 0
		c.openLocked()
		return
	}
	c.ensureConnectionLocked()
}

// Send transmits message with the client id added. It reports true when the
// message was written immediately. Otherwise it is queued and flushed in
// order once connected; unless a dial is already in flight, a pending retry
// is cut short and a connection attempt starts at once.
func (c *Client) Send(message map[string]any) (bool, error) {
	payload := make(map[string]any, len(message)+1)
	maps.Copy(payload, message)
	payload["clientId"] = c.clientID
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}

	if c.transport != nil {
		err := c.transport.WriteMessage(data)
		if err == nil {
			return true, nil
		}
		c.logger.Warn("Push channel send failed, queueing message", "error", err)
		c.abandonTransportLocked()
	}

	c.queue = append(c.queue, data)
	if c.transport == nil && !c.dialing {
		// Keeps the attempt count, so a failed dial backs off from where
		// the cycle was.
		c.stopTimerLocked()
	}
	c.ensureConnectionLocked()
	return false, nil
}

// SendCommand sends {resource: {action: payload}}.
func (c *Client) SendCommand(resource, action string, payload any) (bool, error) {
	return c.Send(map[string]any{resource: map[string]any{action: payload}})
}

// Disconnect closes the connection for good. A pending retry is cancelled,
// queued messages are dropped and a dial still in flight is closed as soon
// as it completes. Only an explicit Connect or Send opens a new connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Close disconnects and stops listener delivery. It waits for listeners
// already queued to run, so it must not be called from a listener: use
// Disconnect there, or call Close from another goroutine.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if st := c.status; st.State != StateDisconnected || st.Detail == nil || !st.Detail.Manual {
		c.disconnectLocked()
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.dispatch.close()
}

// OnStatus registers fn for status transitions. If the client has already
// left its initial state, fn is first called with the current status.
func (c *Client) OnStatus(fn func(Status)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListenerID
	c.nextListenerID++
	c.statusListeners = append(c.statusListeners, statusListener{id: id, fn: fn})

	if st := c.status; !st.initial() {
		c.dispatch.enqueue(func() { c.safeCall(func() { fn(st.clone()) }) })
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.statusListeners = slices.DeleteFunc(c.statusListeners, func(l statusListener) bool { return l.id == id })
	}
}

// OnMessage registers fn for inbound messages.
func (c *Client) OnMessage(fn func(Message)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListenerID
	c.nextListenerID++
	c.messageListeners = append(c.messageListeners, messageListener{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.messageListeners = slices.DeleteFunc(c.messageListeners, func(l messageListener) bool { return l.id == id })
	}
}

func (c *Client) ensureConnectionLocked() {
	if c.transport != nil || c.dialing || c.timer != nil {
		return
	}
	c.openLocked()
}

func (c *Client) openLocked() {
	c.manual = false
	c.generation++
	gen := c.generation

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelDial = cancel
	c.dialing = true

	endpoint := withQuery(c.opts.URL, c.matchID, c.setNumber)
	c.setStatusLocked(StateConnecting, nil)
	go c.dial(ctx, cancel, gen, endpoint)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, endpoint string) {
	defer cancel()
	t, err := c.opts.Dialer.Dial(ctx, endpoint)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		// Disconnected while dialing.
		if t != nil {
			_ = t.Close()
		}
		return
	}
	c.dialing = false
	c.cancelDial = nil

	if err != nil {
		c.logger.Warn("Push channel connect failed", "url", endpoint, "error", err)
		c.setStatusLocked(StateError, &Detail{Type: "dial", Message: err.Error()})
		c.scheduleReconnectLocked()
		return
	}

	c.transport = t
	isReconnect := c.attempts > 0
	c.attempts = 0
	c.logger.Info("Push channel connected", "url", endpoint, "reconnect", isReconnect)
	c.setStatusLocked(StateConnected, &Detail{IsReconnect: isReconnect})

	go c.read(gen, t)
	c.flushLocked()
}

func (c *Client) flushLocked() {
	for len(c.queue) > 0 {
		if err := c.transport.WriteMessage(c.queue[0]); err != nil {
			c.logger.Warn("Push channel flush failed", "pending", len(c.queue), "error", err)
			c.abandonTransportLocked()
			return
		}
		c.queue = c.queue[1:]
	}
	c.queue = nil
}

// abandonTransportLocked closes a transport that failed a write. Its read
// loop observes the close and schedules the reconnect.
func (c *Client) abandonTransportLocked() {
	t := c.transport
	go func() { _ = t.Close() }()
}

func (c *Client) read(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			_ = t.Close()
			c.transportEnded(gen, t, err)
			return
		}

		msg, ok := parseMessage(data)
		if !ok {
			c.logger.Warn("Discarding unparseable push channel message", "size", len(data))
			continue
		}

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		listeners := slices.Clone(c.messageListeners)
		c.dispatch.enqueue(func() {
			for _, l := range listeners {
				c.safeCall(func() { l.fn(msg) })
			}
		})
		c.mu.Unlock()
	}
}

func (c *Client) transportEnded(gen uint64, t Transport, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.transport != t {
		return
	}
	c.transport = nil

	code := closeCode(err)
	c.logger.Info("Push channel closed", "code", code, "error", err)
	c.setStatusLocked(StateDisconnected, &Detail{Code: code})
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.manual || c.closed {
		return
	}
	if c.attempts >= c.maxAttempts {
		c.logger.Warn("Push channel giving up", "attempts", c.attempts)
		c.setStatusLocked(StateFailed, &Detail{Attempts: c.attempts, WillRetry: false})
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := retry.Backoff(c.opts.BaseDelay, c.opts.MaxDelay, attempt)
	c.setStatusLocked(StateReconnecting, &Detail{Attempt: attempt, Delay: delay, WillRetry: true})

	c.stopTimerLocked()
	seq := c.timerSeq
	c.timer = c.opts.Clock.AfterFunc(delay, func() { c.retryFired(seq) })
}

func (c *Client) retryFired(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.timerSeq || c.manual || c.closed {
		return
	}
	c.timer = nil
	if c.transport != nil || c.dialing {
		return
	}
	c.openLocked()
}

// stopTimerLocked cancels a pending retry. Bumping timerSeq also defuses a
// callback that fired but has not acquired the lock yet.
func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

func (c *Client) disconnectLocked() {
	c.manual = true
	c.stopTimerLocked()
	c.queue = nil
	c.dropConnectionLocked()
	c.setStatusLocked(StateDisconnected, &Detail{Manual: true, WillRetry: false})
}

// dropConnectionLocked abandons the open transport or in-flight dial. The
// generation bump silences their read loop and dial result.
func (c *Client) dropConnectionLocked() {
	c.generation++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.dialing = false
	if t := c.transport; t != nil {
		c.transport = nil
		_ = t.Close()
	}
}

func (c *Client) setStatusLocked(state State, detail *Detail) {
	st := Status{State: state, Detail: detail}
	c.status = st

	listeners := slices.Clone(c.statusListeners)
	c.dispatch.enqueue(func() {
		for _, l := range listeners {
			c.safeCall(func() { l.fn(st.clone()) })
		}
	})
}

func (c *Client) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Push channel listener panicked", "panic", r)
		}
	}()
	fn()
}

func (s Status) clone() Status {
	if s.Detail != nil {
		d := *s.Detail
		s.Detail = &d
	}
	return s
}

func parseMessage(data []byte) (Message, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false
	}
	return msg, true
}

// dispatcher runs queued callbacks in order on a single goroutine.
type dispatcher struct {
	mu        sync.Mutex
	pending   []func()
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// close delivers what is already queued, then stops the goroutine.
func (d *dispatcher) close() {
	d.closeOnce.Do(func() { close(d.stop) })
	<-d.done
}
