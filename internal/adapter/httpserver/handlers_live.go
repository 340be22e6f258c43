package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/match"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/correlation"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	maxMessageSize = 64 << 10
	pongWait       = 70 * time.Second
)

// queryID parses a positive integer query parameter. Missing or invalid
// values yield 0.
func queryID(c echo.Context, name string) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// safeConn serializes writes to a websocket. The registry's writer and the
// command loop both write to the same connection.
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *safeConn) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *safeConn) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.SetWriteDeadline(t)
}

func (s *safeConn) Close() error {
	return s.conn.Close()
}

func (s *safeConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// handleLiveScore upgrades to the push channel for one match. The viewer
// receives a snapshot event first, then every broadcast; text frames it
// sends are executed as commands and answered on the same socket.
func (s *Server) handleLiveScore(c echo.Context) error {
	ctx := c.Request().Context()
	matchID := queryID(c, "matchId")
	if matchID == 0 {
		return apperrors.ValidationError("matchId must be a positive integer").WithField("field", "matchId")
	}

	// Reject unknown matches while a plain HTTP status can still be sent.
	if _, err := s.matches.Snapshot(ctx, matchID); err != nil {
		return err
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.WarnContext(ctx, "WebSocket upgrade failed", "match_id", matchID, "error", err)
		return nil
	}
	conn := &safeConn{conn: ws}

	handle, _, err := s.matches.Connect(context.WithoutCancel(ctx), matchID, conn)
	if err != nil {
		reason := match.Classify(err).Message
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
		_ = conn.Close()
		slog.InfoContext(ctx, "Push channel rejected", "match_id", matchID, "error", err)
		return nil
	}
	defer s.matches.Disconnect(handle)

	logger := slog.With("match_id", matchID, "handle_id", handle.ID.String())
	logger.InfoContext(ctx, "Push channel opened", "set_number", queryID(c, "setNumber"))

	clientID := c.QueryParam("clientId")
	if clientID == "" {
		clientID = handle.ID.String()
	}
	s.readCommands(ctx, conn, matchID, clientID, logger)

	logger.InfoContext(ctx, "Push channel closed")
	return nil
}

func (s *Server) readCommands(ctx context.Context, conn *safeConn, matchID int, clientID string, logger *slog.Logger) {
	ws := conn.conn
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	limiter := newCommandLimiter(s.config.CommandRateLimit, s.config.CommandRateBurst)
	seq := 0

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugContext(ctx, "Push channel read failed", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		seq++
		cmdCtx := correlation.Child(context.WithoutCancel(ctx), seq)
		var resp match.Response
		cmd, err := match.ParseCommand(data)
		switch {
		case err != nil:
			resp = match.ErrorResponse(cmd, err)
		case !limiter.Allow():
			resp = match.ErrorResponse(cmd, apperrors.RateLimitedError("rate limit exceeded"))
		default:
			if cmd.ClientID == "" {
				cmd.ClientID = clientID
			}
			resp = s.matches.Execute(cmdCtx, matchID, cmd)
		}
		if !resp.OK() {
			logger.InfoContext(cmdCtx, "Command rejected", "resource", resp.Resource, "action", resp.Action, "status", resp.Status)
		}

		if err := conn.writeJSON(resp); err != nil {
			logger.DebugContext(cmdCtx, "Failed to write command response", "error", err)
			return
		}
	}
}

type liveBroadcastRequest struct {
	Type  domain.EventType       `json:"type"`
	Match *domain.MatchLiveState `json:"match"`
}

// handleLiveBroadcast ingests a broadcast produced elsewhere. The local
// actor adopts it only when its revision is newer.
func (s *Server) handleLiveBroadcast(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	var req liveBroadcastRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.ValidationError("malformed broadcast: body must be a JSON object")
	}
	if req.Type != domain.EventBroadcastScore {
		return apperrors.ValidationError("broadcast type must be broadcastScore").WithField("type", string(req.Type))
	}
	if req.Match == nil {
		return apperrors.ValidationError("broadcast must carry a match")
	}

	adopted, err := s.matches.Adopt(c.Request().Context(), domain.Event{Type: req.Type, Match: req.Match})
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusAccepted, map[string]bool{"accepted": true, "adopted": adopted}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLiveState(c echo.Context) error {
	matchID := queryID(c, "matchId")
	if matchID == 0 {
		return apperrors.ValidationError("matchId must be a positive integer").WithField("field", "matchId")
	}

	stats, err := s.matches.Stats(matchID)
	if err != nil && !errors.Is(err, domain.ErrMatchNotFound) {
		return err
	}
	response := map[string]any{
		"matchId":         matchID,
		"connectionCount": stats.ConnectionCount,
		"lastBroadcast":   stats.LastBroadcast,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
