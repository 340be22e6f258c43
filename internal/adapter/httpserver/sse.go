package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var errStreamClosed = errors.New("event stream closed")

// sseConn adapts a streaming HTTP response to broadcast.Conn. Snapshot and
// broadcastScore events become "snapshot" events carrying the match
// document; delete events become "delete"; pings become comments.
type sseConn struct {
	mu          sync.Mutex
	w           http.ResponseWriter
	rc          *http.ResponseController
	wroteHeader bool
	closed      bool
	done        chan struct{}
}

func newSSEConn(w http.ResponseWriter) *sseConn {
	return &sseConn{
		w:    w,
		rc:   http.NewResponseController(w),
		done: make(chan struct{}),
	}
}

func (s *sseConn) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.writeHeader()

	var err error
	switch messageType {
	case websocket.TextMessage:
		err = s.writeEvent(data)
	case websocket.PingMessage:
		_, err = fmt.Fprint(s.w, ": ping\n\n")
	case websocket.CloseMessage:
		return nil
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseConn) writeEvent(data []byte) error {
	var envelope struct {
		Type    domain.EventType `json:"type"`
		Match   json.RawMessage  `json:"match"`
		MatchID int              `json:"matchId"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	if envelope.Type == domain.EventDelete {
		_, err := fmt.Fprintf(s.w, "event: delete\ndata: {\"matchId\":%d}\n\n", envelope.MatchID)
		return err
	}
	_, err := fmt.Fprintf(s.w, "event: snapshot\ndata: %s\n\n", envelope.Match)
	return err
}

func (s *sseConn) writeHeader() {
	if s.wroteHeader {
		return
	}
	s.wroteHeader = true
	h := s.w.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseConn) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if err := s.rc.SetWriteDeadline(t); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Close ends the stream. Writes after Close fail, so the handler can return
// while the registry's writer is still winding down.
func (s *sseConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *Server) handleStream(c echo.Context) error {
	id, err := matchIDParam(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	conn := newSSEConn(c.Response().Writer)
	handle, _, err := s.matches.Connect(context.WithoutCancel(ctx), id, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	slog.InfoContext(ctx, "Event stream opened", "match_id", id, "handle_id", handle.ID.String())
	select {
	case <-ctx.Done():
	case <-conn.done:
	}

	_ = conn.Close()
	s.matches.Disconnect(handle)
	slog.InfoContext(ctx, "Event stream closed", "match_id", id, "handle_id", handle.ID.String())
	return nil
}
