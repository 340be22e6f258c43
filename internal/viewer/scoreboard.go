package viewer

import (
	"fmt"
	"strings"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
)

const defaultOpponentName = "Opponent"

type SetStatus string

const (
	SetFinal      SetStatus = "Final"
	SetInProgress SetStatus = "In Progress"
	SetRecorded   SetStatus = "Recorded"
	SetUpcoming   SetStatus = "Upcoming"
)

// Side is one team as displayed. Which physical side it is depends on the
// match's swap flag.
type Side struct {
	Name     string
	Score    int
	SetsWon  int
	Timeouts [2]bool
}

type SetLine struct {
	Number int
	Home   *int
	Away   *int
	Status SetStatus
}

// Scoreboard is the display projection of a snapshot.
type Scoreboard struct {
	Revision   int64
	CurrentSet int
	Location   string
	Home       Side
	Away       Side
	Sets       []SetLine
}

// NewScoreboard renders m for display. homeTeam names the side recorded as
// home; when the match is swapped that side is shown as away.
func NewScoreboard(m *domain.MatchLiveState, homeTeam string) Scoreboard {
	m = m.Clone()
	m.Normalize()

	opponent := strings.TrimSpace(m.Opponent)
	if opponent == "" {
		opponent = defaultOpponentName
	}

	current := currentSet(m)
	entry := m.Sets[current]
	homeWins, oppWins := setWins(m)

	recorded := Side{Name: homeTeam, Score: displayScore(entry.Home), SetsWon: homeWins, Timeouts: entry.Timeouts.Home}
	opp := Side{Name: opponent, Score: displayScore(entry.Opp), SetsWon: oppWins, Timeouts: entry.Timeouts.Opp}

	sb := Scoreboard{
		Revision:   m.Revision,
		CurrentSet: current,
		Location:   m.Location,
		Home:       recorded,
		Away:       opp,
	}
	if m.IsSwapped {
		sb.Home, sb.Away = opp, recorded
	}

	for n := domain.FirstSet; n <= domain.LastSet; n++ {
		s := m.Sets[n]
		home, away := clampPtr(s.Home), clampPtr(s.Opp)
		if m.IsSwapped {
			home, away = away, home
		}
		sb.Sets = append(sb.Sets, SetLine{
			Number: n,
			Home:   home,
			Away:   away,
			Status: setStatus(m.FinalizedSets[n], home != nil || away != nil, n == current),
		})
	}
	return sb
}

// Title is a one-line heading such as "Live: Home vs Eagles @ North Gym".
func (s Scoreboard) Title() string {
	title := fmt.Sprintf("Live: %s vs %s", s.Home.Name, s.Away.Name)
	if s.Location != "" {
		title += " @ " + s.Location
	}
	return title
}

func (s Scoreboard) String() string {
	return fmt.Sprintf("Set %d  %s %02d - %02d %s  (sets %d-%d, rev %d)",
		s.CurrentSet, s.Home.Name, s.Home.Score, s.Away.Score, s.Away.Name,
		s.Home.SetsWon, s.Away.SetsWon, s.Revision)
}

// currentSet picks the first unfinalized set with a score. If set 1 is
// open and empty the match has not started; otherwise it falls back to
// the last finalized set.
func currentSet(m *domain.MatchLiveState) int {
	for n := domain.FirstSet; n <= domain.LastSet; n++ {
		if m.FinalizedSets[n] {
			continue
		}
		s := m.Sets[n]
		if s.Home != nil || s.Opp != nil {
			return n
		}
		if n == domain.FirstSet {
			return n
		}
	}
	for n := domain.LastSet; n >= domain.FirstSet; n-- {
		if m.FinalizedSets[n] {
			return n
		}
	}
	return domain.FirstSet
}

// setWins counts finalized sets with two differing scores, per physical side.
func setWins(m *domain.MatchLiveState) (home, opp int) {
	for n := domain.FirstSet; n <= domain.LastSet; n++ {
		s := m.Sets[n]
		if !m.FinalizedSets[n] || s.Home == nil || s.Opp == nil {
			continue
		}
		h, o := clamp(*s.Home), clamp(*s.Opp)
		switch {
		case h > o:
			home++
		case o > h:
			opp++
		}
	}
	return home, opp
}

func setStatus(finalized, hasScores, current bool) SetStatus {
	switch {
	case finalized:
		return SetFinal
	case current && hasScores:
		return SetInProgress
	case hasScores:
		return SetRecorded
	default:
		return SetUpcoming
	}
}

func displayScore(v *int) int {
	if v == nil {
		return 0
	}
	return clamp(*v)
}

func clampPtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := clamp(*v)
	return &c
}

func clamp(v int) int {
	return max(0, min(domain.MaxScore, v))
}
