package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/client/poller"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/client/pushchannel"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/config"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/logging"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/version"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/viewer"
)

const homeTeam = "Home"

func setupPush(cfg *config.Spectator) *pushchannel.Client {
	if !cfg.Push {
		return nil
	}
	endpoint, err := pushchannel.LiveScoreURL(cfg.BaseURL)
	if err != nil {
		slog.Error("Invalid base URL for push channel", "base_url", cfg.BaseURL, "error", err)
		os.Exit(1)
	}
	client, err := pushchannel.New(pushchannel.Options{
		URL:                  endpoint,
		Dialer:               pushchannel.WebSocketDialer{Header: http.Header{"User-Agent": {version.UserAgent()}}},
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		slog.Error("Failed to create push channel client", "error", err)
		os.Exit(1)
	}

	client.OnStatus(func(st pushchannel.Status) {
		attrs := []any{"state", string(st.State)}
		if d := st.Detail; d != nil {
			switch st.State {
			case pushchannel.StateReconnecting:
				attrs = append(attrs, "attempt", d.Attempt, "delay", d.Delay)
			case pushchannel.StateFailed:
				attrs = append(attrs, "attempts", d.Attempts)
			case pushchannel.StateDisconnected:
				attrs = append(attrs, "code", d.Code, "manual", d.Manual)
			case pushchannel.StateError:
				attrs = append(attrs, "type", d.Type, "message", d.Message)
			}
		}
		if st.Degraded() {
			slog.Warn("Push channel status", attrs...)
			return
		}
		slog.Info("Push channel status", attrs...)
	})
	return client
}

func main() {
	cfg, err := config.LoadSpectator()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	push := setupPush(cfg)
	fetcher := poller.NewHTTPFetcher(cfg.BaseURL)
	fetcher.UserAgent = version.UserAgent()
	opts := viewer.SessionOptions{
		MatchID:      cfg.MatchID,
		SetNumber:    cfg.SetNumber,
		Fetcher:      fetcher,
		PollInterval: cfg.PollInterval,
		OnUpdate: func(m *domain.MatchLiveState) {
			board := viewer.NewScoreboard(m, homeTeam)
			fmt.Println(board.Title())
			fmt.Println(board.String())
		},
	}
	if push != nil {
		// Assigned only when non-nil so the interface stays nil for polling-only runs.
		opts.Push = push
		defer push.Close()
	}

	session := viewer.NewSession(opts)
	slog.Info("Following match", "match_id", cfg.MatchID, "base_url", cfg.BaseURL, "push", cfg.Push)
	if err := session.Start(ctx); err != nil {
		slog.Error("Failed to start session", "error", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		session.Stop()
	case <-session.Done():
	}

	if errors.Is(session.Err(), domain.ErrMatchNotFound) {
		slog.Error("Match not found", "match_id", cfg.MatchID)
		os.Exit(2)
	}
}
