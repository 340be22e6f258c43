package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/match"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/correlation"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
	"github.com/invopop/jsonschema"
	"github.com/labstack/echo/v4"
)

const (
	maxBodyBytes   = 64 << 10
	clientIDHeader = "X-Client-ID"
)

// matchIDParam parses the :id path segment. Anything that is not a positive
// integer is treated as an unknown match.
func matchIDParam(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, apperrors.NotFoundError("Match not found").WithField("id", c.Param("id"))
	}
	return id, nil
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperrors.ValidationError("failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return nil, apperrors.ValidationError("request body too large")
	}
	return body, nil
}

func (s *Server) handleListMatches(c echo.Context) error {
	list, err := s.matches.List(c.Request().Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []domain.MatchSummary{}
	}
	if err := c.JSON(http.StatusOK, list); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreateMatch(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	id, err := s.matches.Create(c.Request().Context(), body)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusCreated, map[string]int{"id": id}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetMatch(c echo.Context) error {
	id, err := matchIDParam(c)
	if err != nil {
		return err
	}

	snapshot, err := s.matches.Snapshot(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, snapshot); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteMatch(c echo.Context) error {
	id, err := matchIDParam(c)
	if err != nil {
		return err
	}

	if err := s.matches.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleCommand is the HTTP form of a push-channel command. The response
// mirrors the push-channel envelope and uses its status as the HTTP status.
func (s *Server) handleCommand(c echo.Context) error {
	id, err := matchIDParam(c)
	if err != nil {
		return err
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}

	cmd, err := match.ParseCommand(body)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if cmd.ClientID == "" {
		cmd.ClientID = c.Request().Header.Get(clientIDHeader)
	}
	if cmd.ClientID == "" {
		if cid, ok := correlation.ID(ctx); ok {
			cmd.ClientID = "http-" + cid
		}
	}

	resp := s.matches.Execute(ctx, id, cmd)
	if err := c.JSON(resp.Status, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

var matchSchema = sync.OnceValue(func() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&domain.MatchLiveState{})
	schema.Title = "MatchLiveState"
	schema.Description = "Authoritative live snapshot of one match, pushed to viewers on every accepted mutation."
	return schema
})

func (s *Server) handleMatchSchema(c echo.Context) error {
	if err := c.JSON(http.StatusOK, matchSchema()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
