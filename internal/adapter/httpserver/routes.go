package httpserver

import (
	"log/slog"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.httpMetrics.Middleware())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))

	s.registerMatchRoutes()
	s.registerLiveRoutes()
	s.echo.GET("/api/schema/match", s.handleMatchSchema)
}

func (s *Server) registerMatchRoutes() {
	commandLimiter := newRateLimiter(s.config.CommandRateLimit, s.config.CommandRateBurst)

	api := s.echo.Group("/api/matches")
	api.GET("", s.handleListMatches)
	api.POST("", s.handleCreateMatch)
	api.GET("/:id", s.handleGetMatch)
	api.DELETE("/:id", s.handleDeleteMatch)
	api.POST("/:id/commands", s.handleCommand, commandLimiter)
	api.GET("/:id/stream", s.handleStream)
}

func (s *Server) registerLiveRoutes() {
	live := s.echo.Group("/api/live")
	live.GET("/score", s.handleLiveScore)
	live.POST("/broadcast", s.handleLiveBroadcast)
	live.GET("/state", s.handleLiveState)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
