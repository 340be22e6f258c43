package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/version"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe, typically a store or fanout ping.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthReport struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks"`
	FailedChecks []string          `json:"failedChecks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.respondHealth(c, s.runHealthChecks(ctx))
}

// Liveness never touches dependencies; a down store must not restart the pod.
func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).Seconds(),
		"activeActors": s.matches.ActiveActors(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.respondHealth(c, s.runHealthChecks(ctx))
}

// runHealthChecks probes every dependency concurrently and reports all
// failures, in registration order.
func (s *Server) runHealthChecks(ctx context.Context) healthReport {
	results := make([]error, len(s.healthChecks))
	var g errgroup.Group
	for i, hc := range s.healthChecks {
		g.Go(func() error {
			results[i] = hc.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report := healthReport{Status: "ready", Checks: make(map[string]string, len(results))}
	for i, err := range results {
		name := s.healthChecks[i].Name
		if err == nil {
			report.Checks[name] = "ok"
			continue
		}
		slog.WarnContext(ctx, "Health check failed", "check", name, "error", err)
		report.Status = "unhealthy"
		report.Checks[name] = err.Error()
		report.FailedChecks = append(report.FailedChecks, name)
	}
	return report
}

func (s *Server) respondHealth(c echo.Context, report healthReport) error {
	status := http.StatusOK
	if len(report.FailedChecks) > 0 {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, report); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
