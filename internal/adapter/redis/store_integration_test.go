package redis

import (
	"context"
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/adapter/storetest"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, NewStore(setupTestClient(t)))
}

func TestStorePutAdvancesSequence(t *testing.T) {
	store := NewStore(setupTestClient(t))
	ctx := context.Background()

	seeded := domain.NewMatch(12)
	seeded.Revision = 1
	require.NoError(t, store.Put(ctx, seeded))

	id, err := store.Create(ctx, domain.NewMatch(0))
	require.NoError(t, err)
	assert.Equal(t, 13, id)
}

func TestStoreDeleteRemovesSummary(t *testing.T) {
	store := NewStore(setupTestClient(t))
	ctx := context.Background()

	id, err := store.Create(ctx, domain.NewMatch(0))
	require.NoError(t, err)

	_, err = store.Delete(ctx, id)
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
