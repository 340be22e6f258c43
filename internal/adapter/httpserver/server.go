package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/broadcast"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/match"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
)

type matchService interface {
	List(ctx context.Context) ([]domain.MatchSummary, error)
	Create(ctx context.Context, payload []byte) (int, error)
	Snapshot(ctx context.Context, id int) (*domain.MatchLiveState, error)
	Delete(ctx context.Context, id int) error
	Execute(ctx context.Context, boundMatchID int, cmd match.Command) match.Response
	Connect(ctx context.Context, id int, conn broadcast.Conn) (match.Handle, *domain.MatchLiveState, error)
	Disconnect(h match.Handle)
	Adopt(ctx context.Context, event domain.Event) (bool, error)
	Stats(id int) (match.Stats, error)
	ActiveActors() int
}

type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	config     *config.Config

	matches      matchService
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	upgrader     websocket.Upgrader
	origins      *originPolicy
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, matches matchService, registry *prometheus.Registry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	origins := newOriginPolicy(cfg.Origins(), cfg.AppEnv != "production")
	srv := &Server{
		echo:         e,
		origins:      origins,
		config:       cfg,
		matches:      matches,
		registry:     registry,
		httpMetrics:  metrics.NewHTTPMetrics(registry),
		healthChecks: healthChecks,
		startTime:    time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}

	srv.registerRoutes()

	srv.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler returns the echo router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowOriginFunc: s.origins.allowsCORS,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type", clientIDHeader, correlationHeader},
		ExposedHeaders: []string{correlationHeader, "Retry-After"},
	})
	return c.Handler(s.echo)
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
