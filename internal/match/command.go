package match

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
)

// Resources accepted in a command envelope.
const (
	ResourceMatch = "match"
	ResourceSet   = "set"
)

// Command is one parsed {resource:{action:payload}} envelope.
type Command struct {
	Resource string
	Action   string
	Payload  json.RawMessage
	ClientID string
}

// Response is the reply to a Command, in the same shape on the push
// channel and the HTTP command route.
type Response struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Status   int    `json:"status"`
	Body     any    `json:"body"`
}

// OK reports whether Status signals success.
func (r Response) OK() bool {
	return r.Status < http.StatusMultipleChoices
}

// ErrorResponse builds the response for a failed command.
func ErrorResponse(cmd Command, err error) Response {
	structured := Classify(err)
	return Response{
		Resource: cmd.Resource,
		Action:   cmd.Action,
		Status:   structured.HTTPStatus(),
		Body:     structured.ToResponse(),
	}
}

// Classify maps domain sentinels onto structured errors. Anything else
// unknown becomes an internal error.
func Classify(err error) *apperrors.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrMatchNotFound):
		return apperrors.NotFoundError("Match not found")
	case errors.Is(err, domain.ErrPlayerNotFound):
		return apperrors.NotFoundError("Player not found")
	case errors.Is(err, domain.ErrTooManyClients):
		return apperrors.ConflictError("Too many viewers for this match")
	case errors.Is(err, domain.ErrActorStopped):
		e := apperrors.InternalError("match is restarting", err)
		e.Retryable = true
		return e
	}
	return apperrors.AsStructuredError(err)
}

// ParseCommand decodes a command envelope. A top-level "clientId" is
// split off; apart from it exactly one resource holding exactly one action
// is allowed.
func ParseCommand(data []byte) (Command, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Command{}, apperrors.ValidationError("malformed command: body must be a JSON object")
	}

	var cmd Command
	if raw, ok := envelope["clientId"]; ok {
		delete(envelope, "clientId")
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return Command{}, apperrors.ValidationError("clientId must be a string")
		}
		cmd.ClientID = id
	}

	if len(envelope) != 1 {
		return Command{}, apperrors.ValidationError("command must name exactly one resource")
	}
	for resource, body := range envelope {
		cmd.Resource = resource
		if resource != ResourceMatch && resource != ResourceSet {
			return Command{}, apperrors.ValidationError(fmt.Sprintf("unknown resource %q", resource)).
				WithField("resource", resource)
		}

		var actions map[string]json.RawMessage
		if err := json.Unmarshal(body, &actions); err != nil || len(actions) != 1 {
			return Command{}, apperrors.ValidationError("command must name exactly one action").
				WithField("resource", resource)
		}
		for action, payload := range actions {
			cmd.Action = action
			cmd.Payload = payload
		}
	}

	if !knownAction(cmd.Resource, cmd.Action) {
		return Command{}, apperrors.ValidationError(fmt.Sprintf("unknown action %q", cmd.Action)).
			WithField("resource", cmd.Resource).
			WithField("action", cmd.Action)
	}
	return cmd, nil
}

// commandMeta holds the payload fields shared by every action.
type commandMeta struct {
	MatchID          flexInt `json:"matchId"`
	ExpectedRevision *int64  `json:"expectedRevision"`
	IdempotencyKey   string  `json:"idempotencyKey"`
}

func (c Command) meta() (commandMeta, error) {
	var m commandMeta
	if err := decodePayload(c.Payload, &m); err != nil {
		return commandMeta{}, err
	}
	return m, nil
}

// decodePayload unmarshals a payload object. A missing or null payload
// decodes as an empty object.
func decodePayload(payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		var flexErr *flexError
		if errors.As(err, &flexErr) {
			return apperrors.ValidationError(flexErr.msg)
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperrors.ValidationError(fmt.Sprintf("invalid value for %s", typeErr.Field)).
				WithField("field", typeErr.Field)
		}
		return apperrors.ValidationError("malformed payload")
	}
	return nil
}

// flexInt accepts a JSON number, a numeric string, or null.
type flexInt struct {
	Value int
	Valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = flexInt{}
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = flexInt{}
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return &flexError{msg: fmt.Sprintf("%s is not an integer", string(data))}
	}
	*f = flexInt{Value: n, Valid: true}
	return nil
}

func (f flexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.Value)), nil
}

// flexBool accepts booleans, numbers and strings the way form inputs send
// them: 0, "", "0" and "false" are false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	switch strings.ToLower(s) {
	case "", "null", "0", "false":
		*f = false
	default:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			*f = n != 0
			return nil
		}
		*f = true
	}
	return nil
}

type flexError struct {
	msg string
}

func (e *flexError) Error() string { return e.msg }
