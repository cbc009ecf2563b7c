package manager

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/entity"
	"github.com/INLOpen/nexuschat/index"
	"github.com/INLOpen/nexuschat/kv"
)

func TestLocks_SerializeSameKey(t *testing.T) {
	locks := NewLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("k")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	locks.Lock("other")()
	assert.Equal(t, 2, locks.Len())
}

func TestCounter_KeepsOneIndexKey(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	registry := index.NewRegistry(store, index.Options{Strict: true})
	tree := registry.Tree("things_by_size")
	props := entity.NewProperties(store, "thing")
	c := NewCounter(props, "size", tree, NewLocks())

	require.NoError(t, c.Init(ctx, 1, 0))
	require.NoError(t, c.Init(ctx, 2, 5))

	v, err := c.Add(ctx, 1, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
	v, err = c.Add(ctx, 1, -1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	keys, err := tree.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []index.Key{{Metric: 2, ID: 1}, {Metric: 5, ID: 2}}, keys)

	stored, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored)

	require.NoError(t, c.Remove(ctx, 2))
	keys, err = tree.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []index.Key{{Metric: 2, ID: 1}}, keys)
}

func TestCounter_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	registry := index.NewRegistry(store, index.Options{Strict: true})
	tree := registry.Tree("things_by_size")
	c := NewCounter(entity.NewProperties(store, "thing"), "size", tree, NewLocks())
	require.NoError(t, c.Init(ctx, 7, 0))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Add(ctx, 7, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := c.Get(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 40, v)
	size, err := tree.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
	ok, err := tree.Contains(ctx, index.Key{Metric: 40, ID: 7})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTokenManager(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenManager(kv.NewMemory())

	a, err := tokens.Issue(ctx, 1)
	require.NoError(t, err)
	b, err := tokens.Issue(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	id, err := tokens.Resolve(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	require.NoError(t, tokens.Invalidate(ctx, a))
	_, err = tokens.Resolve(ctx, a)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	_, err = tokens.Resolve(ctx, "never-issued")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	_, err = tokens.Resolve(ctx, "")
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	id, err = tokens.Resolve(ctx, b)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
}

func TestStatisticsManager(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	registry := index.NewRegistry(store, index.Options{})
	stats := NewStatisticsManager(store, registry, 2, nil)

	v, err := stats.Get(ctx, StatTotalUsers)
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = stats.Add(ctx, StatTotalUsers, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
	_, err = stats.Add(ctx, StatTotalUsers, -3)
	assert.ErrorIs(t, err, core.ErrIllegalState)
	v, err = stats.Get(ctx, StatTotalUsers)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v, "a rejected change is not stored")

	tree := stats.Tree(TreeChannelsByUsers)
	for _, k := range []index.Key{{Metric: 3, ID: 1}, {Metric: 3, ID: 2}, {Metric: 5, ID: 3}} {
		_, err := tree.Insert(ctx, k)
		require.NoError(t, err)
	}
	top, err := stats.Top(ctx, TreeChannelsByUsers)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, top)

	n, err := stats.PendingMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
