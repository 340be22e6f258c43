package domain

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"time"
)

const (
	FirstSet = 1
	LastSet  = 5
	MaxScore = 99
)

// MatchLiveState is the authoritative snapshot of one match.
//
// Sets always holds entries 1..5. Home/Opp fields of a SetEntry track one
// physical side regardless of IsSwapped, which only affects display.
type MatchLiveState struct {
	ID              int               `json:"id"`
	Date            string            `json:"date"`
	Location        string            `json:"location"`
	Types           map[string]bool   `json:"types"`
	Opponent        string            `json:"opponent"`
	JerseyColorHome string            `json:"jerseyColorHome"`
	JerseyColorOpp  string            `json:"jerseyColorOpp"`
	ResultHome      int               `json:"resultHome"`
	ResultOpp       int               `json:"resultOpp"`
	FirstServer     string            `json:"firstServer"`
	Roster          []RosterEntry     `json:"players"`
	Sets            map[int]*SetEntry `json:"sets"`
	FinalizedSets   map[int]bool      `json:"finalizedSets"`
	IsSwapped       bool              `json:"isSwapped"`
	Revision        int64             `json:"revision"`
}

// SetEntry is one set's score state. A nil score means the set has not been played.
type SetEntry struct {
	Home             *int        `json:"home"`
	Opp              *int        `json:"opp"`
	Timeouts         SetTimeouts `json:"timeouts"`
	TimeoutStartedAt *time.Time  `json:"timeoutStartedAt,omitempty"`
}

type SetTimeouts struct {
	Home [2]bool `json:"home"`
	Opp  [2]bool `json:"opp"`
}

type RosterEntry struct {
	PlayerID   int  `json:"playerId"`
	TempNumber *int `json:"tempNumber,omitempty"`
}

// MatchSummary is the list projection of a match record.
type MatchSummary struct {
	ID       int    `json:"id"`
	Date     string `json:"date"`
	Opponent string `json:"opponent"`
}

// NewMatch returns an empty match with all five sets initialised.
func NewMatch(id int) *MatchLiveState {
	m := &MatchLiveState{
		ID:            id,
		Types:         map[string]bool{},
		Roster:        []RosterEntry{},
		Sets:          make(map[int]*SetEntry, LastSet),
		FinalizedSets: map[int]bool{},
	}
	m.ensureSets()
	return m
}

// ValidSetNumber reports whether n is within 1..5.
func ValidSetNumber(n int) bool {
	return n >= FirstSet && n <= LastSet
}

// Normalize fills missing collections and drops out-of-range set numbers.
// Stores call it on every record they load.
func (m *MatchLiveState) Normalize() {
	if m.Types == nil {
		m.Types = map[string]bool{}
	}
	if m.Roster == nil {
		m.Roster = []RosterEntry{}
	}
	if m.Sets == nil {
		m.Sets = make(map[int]*SetEntry, LastSet)
	}
	if m.FinalizedSets == nil {
		m.FinalizedSets = map[int]bool{}
	}
	for n := range m.Sets {
		if !ValidSetNumber(n) {
			delete(m.Sets, n)
		}
	}
	for n := range m.FinalizedSets {
		if !ValidSetNumber(n) {
			delete(m.FinalizedSets, n)
		}
	}
	m.ensureSets()
}

func (m *MatchLiveState) ensureSets() {
	for n := FirstSet; n <= LastSet; n++ {
		if m.Sets[n] == nil {
			m.Sets[n] = &SetEntry{}
		}
	}
}

// Clone returns a deep copy. Viewers only ever receive clones.
func (m *MatchLiveState) Clone() *MatchLiveState {
	if m == nil {
		return nil
	}
	c := *m
	c.Types = maps.Clone(m.Types)
	c.FinalizedSets = maps.Clone(m.FinalizedSets)
	c.Roster = make([]RosterEntry, len(m.Roster))
	for i, r := range m.Roster {
		c.Roster[i] = RosterEntry{PlayerID: r.PlayerID, TempNumber: cloneInt(r.TempNumber)}
	}
	c.Sets = make(map[int]*SetEntry, len(m.Sets))
	for n, s := range m.Sets {
		c.Sets[n] = s.clone()
	}
	return &c
}

func (s *SetEntry) clone() *SetEntry {
	if s == nil {
		return &SetEntry{}
	}
	c := *s
	c.Home = cloneInt(s.Home)
	c.Opp = cloneInt(s.Opp)
	if s.TimeoutStartedAt != nil {
		t := *s.TimeoutStartedAt
		c.TimeoutStartedAt = &t
	}
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Summary returns the list projection.
func (m *MatchLiveState) Summary() MatchSummary {
	return MatchSummary{ID: m.ID, Date: m.Date, Opponent: m.Opponent}
}

// RosterIndex returns the position of playerID in the roster, or -1.
func (m *MatchLiveState) RosterIndex(playerID int) int {
	return slices.IndexFunc(m.Roster, func(r RosterEntry) bool { return r.PlayerID == playerID })
}

// SortSummaries orders summaries by date, then opponent, then id.
func SortSummaries(list []MatchSummary) {
	slices.SortFunc(list, func(a, b MatchSummary) int {
		return cmp.Or(
			strings.Compare(a.Date, b.Date),
			strings.Compare(a.Opponent, b.Opponent),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
