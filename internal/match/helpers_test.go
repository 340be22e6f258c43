package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/memory"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// viewerConn collects text frames written by a client writer.
type viewerConn struct {
	messages  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newViewerConn() *viewerConn {
	return &viewerConn{messages: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *viewerConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case c.messages <- append([]byte(nil), data...):
		return nil
	case <-c.closed:
		return errors.New("closed")
	}
}

func (c *viewerConn) SetWriteDeadline(time.Time) error { return nil }

func (c *viewerConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *viewerConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *viewerConn) nextRaw(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-c.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for viewer message")
		return nil
	}
}

func (c *viewerConn) next(t *testing.T) domain.Event {
	t.Helper()
	var event domain.Event
	require.NoError(t, json.Unmarshal(c.nextRaw(t), &event))
	return event
}

func (c *viewerConn) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.messages:
		t.Fatalf("unexpected viewer message: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// flakyStore fails writes while failPut is set.
type flakyStore struct {
	*memory.Store
	failPut atomic.Bool
	puts    atomic.Int32
}

func (s *flakyStore) Put(ctx context.Context, m *domain.MatchLiveState) error {
	s.puts.Add(1)
	if s.failPut.Load() {
		return errors.New("database is locked")
	}
	return s.Store.Put(ctx, m)
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = memory.NewStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewActorMetrics(prometheus.NewRegistry())
	}
	m := NewManager(cfg)
	t.Cleanup(m.Shutdown)
	return m
}

func mustParse(t *testing.T, format string, args ...any) Command {
	t.Helper()
	cmd, err := ParseCommand(fmt.Appendf(nil, format, args...))
	require.NoError(t, err)
	return cmd
}

func createMatch(t *testing.T, m *Manager) int {
	t.Helper()
	resp := m.Execute(context.Background(), 0, mustParse(t, `{"match":{"create":{"opponent":"Eagles","date":"2024-10-05"}}}`))
	require.Equal(t, 201, resp.Status, "%+v", resp.Body)
	return resp.Body.(map[string]int)["id"]
}
