package pushchannel

import (
	"encoding/json"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
)

// State names a position in the connection state machine.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateError        State = "error"
)

// Detail carries the payload of a transition. Only the fields relevant to
// the state are set.
type Detail struct {
	// connected
	IsReconnect bool `json:"isReconnect,omitempty"`

	// reconnecting, failed
	Attempt   int           `json:"attempt,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	WillRetry bool          `json:"willRetry"`

	// disconnected
	Manual bool `json:"manual,omitempty"`
	Code   int  `json:"code,omitempty"`

	// error
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status is one observed transition. Detail is nil for transitions without
// a payload and for the initial state.
type Status struct {
	State  State
	Detail *Detail
}

func (s Status) initial() bool {
	return s.State == StateDisconnected && s.Detail == nil
}

// Degraded reports whether the push channel cannot currently deliver
// broadcasts and a fallback should take over.
func (s Status) Degraded() bool {
	switch s.State {
	case StateReconnecting, StateFailed, StateError:
		return true
	case StateDisconnected:
		return s.Detail != nil && !s.Detail.Manual
	default:
		return false
	}
}

// Message is an inbound frame: either an event pushed by the server or a
// response to a command sent by this client.
type Message struct {
	Type    domain.EventType       `json:"type,omitempty"`
	Match   *domain.MatchLiveState `json:"match,omitempty"`
	MatchID int                    `json:"matchId,omitempty"`

	Resource string          `json:"resource,omitempty"`
	Action   string          `json:"action,omitempty"`
	Status   int             `json:"status,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// IsResponse reports whether m answers a command rather than announcing an event.
func (m Message) IsResponse() bool {
	return m.Type == "" && m.Status != 0
}
