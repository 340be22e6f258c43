package viewer

import (
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func scoredMatch() *domain.MatchLiveState {
	m := domain.NewMatch(9)
	m.Opponent = "Eagles"
	m.Location = "North Gym"
	m.Revision = 12
	m.Sets[1].Home, m.Sets[1].Opp = intPtr(25), intPtr(20)
	m.Sets[2].Home, m.Sets[2].Opp = intPtr(18), intPtr(25)
	m.Sets[3].Home, m.Sets[3].Opp = intPtr(11), intPtr(7)
	m.Sets[3].Timeouts.Home[0] = true
	m.FinalizedSets[1] = true
	m.FinalizedSets[2] = true
	return m
}

func TestNewScoreboard(t *testing.T) {
	sb := NewScoreboard(scoredMatch(), "Tigers")

	assert.Equal(t, 3, sb.CurrentSet)
	assert.Equal(t, Side{Name: "Tigers", Score: 11, SetsWon: 1, Timeouts: [2]bool{true, false}}, sb.Home)
	assert.Equal(t, Side{Name: "Eagles", Score: 7, SetsWon: 1}, sb.Away)
	assert.Equal(t, "Live: Tigers vs Eagles @ North Gym", sb.Title())
	assert.Equal(t, "Set 3  Tigers 11 - 07 Eagles  (sets 1-1, rev 12)", sb.String())

	require.Len(t, sb.Sets, 5)
	assert.Equal(t, SetFinal, sb.Sets[0].Status)
	assert.Equal(t, SetFinal, sb.Sets[1].Status)
	assert.Equal(t, SetInProgress, sb.Sets[2].Status)
	assert.Equal(t, SetUpcoming, sb.Sets[3].Status)
	assert.Nil(t, sb.Sets[4].Home)
}

func TestNewScoreboard_Swapped(t *testing.T) {
	m := scoredMatch()
	m.IsSwapped = true

	sb := NewScoreboard(m, "Tigers")

	assert.Equal(t, "Eagles", sb.Home.Name)
	assert.Equal(t, 7, sb.Home.Score)
	assert.Equal(t, "Tigers", sb.Away.Name)
	assert.Equal(t, 11, sb.Away.Score)
	assert.Equal(t, [2]bool{true, false}, sb.Away.Timeouts)
	assert.Equal(t, 20, *sb.Sets[0].Home)
	assert.Equal(t, 25, *sb.Sets[0].Away)
}

func TestNewScoreboard_ClampsScores(t *testing.T) {
	m := domain.NewMatch(1)
	m.Sets[1].Home, m.Sets[1].Opp = intPtr(150), intPtr(-4)

	sb := NewScoreboard(m, "Tigers")

	assert.Equal(t, 99, sb.Home.Score)
	assert.Equal(t, 0, sb.Away.Score)
	assert.Equal(t, 99, *sb.Sets[0].Home)
	assert.Equal(t, 0, *sb.Sets[0].Away)
	assert.Equal(t, "Opponent", sb.Away.Name)
}

func TestCurrentSet(t *testing.T) {
	tests := []struct {
		name      string
		scored    []int
		finalized []int
		want      int
	}{
		{name: "not started", want: 1},
		{name: "first set running", scored: []int{1}, want: 1},
		{name: "second set running", scored: []int{1, 2}, finalized: []int{1}, want: 2},
		{name: "between sets", scored: []int{1, 2}, finalized: []int{1, 2}, want: 2},
		{name: "match over", scored: []int{1, 2, 3}, finalized: []int{1, 2, 3}, want: 3},
		{name: "later set scored early", scored: []int{4}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := domain.NewMatch(1)
			for _, n := range tt.scored {
				m.Sets[n].Home = intPtr(1)
			}
			for _, n := range tt.finalized {
				m.FinalizedSets[n] = true
			}
			assert.Equal(t, tt.want, currentSet(m))
		})
	}
}

func TestSetWins_IgnoresTiesAndOpenSets(t *testing.T) {
	m := domain.NewMatch(1)
	m.Sets[1].Home, m.Sets[1].Opp = intPtr(25), intPtr(25)
	m.Sets[2].Home, m.Sets[2].Opp = intPtr(25), intPtr(10)
	m.Sets[3].Home = intPtr(25)
	m.FinalizedSets[1] = true
	m.FinalizedSets[3] = true

	home, opp := setWins(m)

	assert.Zero(t, home)
	assert.Zero(t, opp)
}
