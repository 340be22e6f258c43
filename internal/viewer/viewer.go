// Package viewer holds the spectator side of a live match: a Viewer that
// applies snapshots idempotently by revision, a Session that feeds it from
// the push channel and falls back to polling, and a display Scoreboard.
package viewer

import (
	"sync"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
)

// Viewer is the single consumer of snapshots, whichever producer delivers
// them.
type Viewer struct {
	mu       sync.Mutex
	current  *domain.MatchLiveState
	onChange func(*domain.MatchLiveState)
}

// NewViewer returns an empty viewer. onChange, if set, is called with a copy
// of every snapshot that is applied, in revision order, while the viewer is
// locked; it must not call back into the viewer.
func NewViewer(onChange func(*domain.MatchLiveState)) *Viewer {
	return &Viewer{onChange: onChange}
}

// Apply takes m if its revision is newer than the one held and reports
// whether it did. Older and equal revisions are ignored.
func (v *Viewer) Apply(m *domain.MatchLiveState) bool {
	if m == nil {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current != nil && m.Revision <= v.current.Revision {
		return false
	}
	v.current = m.Clone()
	v.current.Normalize()

	if v.onChange != nil {
		v.onChange(v.current.Clone())
	}
	return true
}

// Current returns a copy of the applied snapshot, or nil.
func (v *Viewer) Current() *domain.MatchLiveState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current.Clone()
}

// Revision returns the applied revision and whether anything was applied.
func (v *Viewer) Revision() (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return 0, false
	}
	return v.current.Revision, true
}
