package domain

// EventType names a server-to-viewer push message.
type EventType string

const (
	EventSnapshot       EventType = "snapshot"
	EventBroadcastScore EventType = "broadcastScore"
	EventDelete         EventType = "delete"
)

// Event is the envelope pushed to viewers. Snapshot and broadcastScore carry
// the full match; delete carries only the id.
type Event struct {
	Type    EventType       `json:"type"`
	Match   *MatchLiveState `json:"match,omitempty"`
	MatchID int             `json:"matchId,omitempty"`
}
