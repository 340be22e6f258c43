// Package storetest holds the behaviour every domain.MatchStore backend
// must share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// Run exercises store. It must start empty.
func Run(t *testing.T, store domain.MatchStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get unknown", func(t *testing.T) {
		_, err := store.Get(ctx, 987654)
		assert.ErrorIs(t, err, domain.ErrMatchNotFound)
	})

	t.Run("create assigns increasing ids", func(t *testing.T) {
		first, err := store.Create(ctx, newMatch("2024-09-01", "Eagles"))
		require.NoError(t, err)
		second, err := store.Create(ctx, newMatch("2024-09-02", "Hawks"))
		require.NoError(t, err)

		assert.Positive(t, first)
		assert.Greater(t, second, first)

		got, err := store.Get(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first, got.ID)
		assert.Equal(t, "Eagles", got.Opponent)
		assert.Equal(t, int64(1), got.Revision)
	})

	t.Run("put round trips the full record", func(t *testing.T) {
		id, err := store.Create(ctx, newMatch("2024-09-03", "Owls"))
		require.NoError(t, err)

		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		m.Sets[1].Home = intPtr(25)
		m.Sets[1].Opp = intPtr(23)
		m.Sets[2].Timeouts.Opp[1] = true
		m.FinalizedSets[1] = true
		m.Roster = append(m.Roster, domain.RosterEntry{PlayerID: 7, TempNumber: intPtr(12)})
		m.IsSwapped = true
		m.Revision = 4
		require.NoError(t, store.Put(ctx, m))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 25, *got.Sets[1].Home)
		assert.Equal(t, 23, *got.Sets[1].Opp)
		assert.Nil(t, got.Sets[3].Home)
		assert.True(t, got.Sets[2].Timeouts.Opp[1])
		assert.True(t, got.FinalizedSets[1])
		assert.Equal(t, []domain.RosterEntry{{PlayerID: 7, TempNumber: intPtr(12)}}, got.Roster)
		assert.True(t, got.IsSwapped)
		assert.Equal(t, int64(4), got.Revision)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		id, err := store.Create(ctx, newMatch("2024-09-04", "Bears"))
		require.NoError(t, err)

		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		m.Opponent = "changed"

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Bears", got.Opponent)
	})

	t.Run("delete", func(t *testing.T) {
		id, err := store.Create(ctx, newMatch("2024-09-05", "Lions"))
		require.NoError(t, err)

		deleted, err := store.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.Delete(ctx, id)
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = store.Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrMatchNotFound)
	})

	t.Run("list is ordered by date then opponent then id", func(t *testing.T) {
		a, err := store.Create(ctx, newMatch("2030-01-02", "Zebras"))
		require.NoError(t, err)
		b, err := store.Create(ctx, newMatch("2030-01-01", "Yaks"))
		require.NoError(t, err)
		c, err := store.Create(ctx, newMatch("2030-01-01", "Xerus"))
		require.NoError(t, err)
		d, err := store.Create(ctx, newMatch("2030-01-01", "Xerus"))
		require.NoError(t, err)

		list, err := store.List(ctx)
		require.NoError(t, err)

		var tail []int
		for _, s := range list {
			if s.Date >= "2030" {
				tail = append(tail, s.ID)
			}
		}
		assert.Equal(t, []int{c, d, b, a}, tail)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func newMatch(date, opponent string) *domain.MatchLiveState {
	m := domain.NewMatch(0)
	m.Date = date
	m.Opponent = opponent
	m.Revision = 1
	return m
}
