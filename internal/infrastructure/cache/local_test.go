package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestLocalStockCache_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLocalStockCache(time.Minute, WithLocalClock(clock.Now))
	ctx := context.Background()
	productID := id.New()

	_, ok, err := c.Get(ctx, productID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, productID, 42, 0))
	qty, ok, err := c.Get(ctx, productID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.Quantity(42), qty)

	clock.Advance(time.Minute)
	_, ok, _ = c.Get(ctx, productID)
	assert.False(t, ok)
}

func TestLocalStockCache_ZeroTTLKeepsUntilInvalidated(t *testing.T) {
	c := NewLocalStockCache(0)
	ctx := context.Background()
	productID := id.New()

	require.NoError(t, c.Set(ctx, productID, 7, 0))
	_, ok, _ := c.Get(ctx, productID)
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, productID))
	_, ok, _ = c.Get(ctx, productID)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLocalStockCache_HandleNotification(t *testing.T) {
	c := NewLocalStockCache(0)
	ctx := context.Background()
	changed, other := id.New(), id.New()
	require.NoError(t, c.Set(ctx, changed, 1, 0))
	require.NoError(t, c.Set(ctx, other, 2, 0))

	c.handleNotification(ctx, " "+changed.String()+" ")
	_, ok, _ := c.Get(ctx, changed)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, other)
	assert.True(t, ok)

	c.handleNotification(ctx, "not-a-uuid")
	assert.Equal(t, 0, c.Len())
}

func TestLocalStockCache_SetAfterInvalidateIsDropped(t *testing.T) {
	c := NewLocalStockCache(0)
	ctx := context.Background()
	productID, other := id.New(), id.New()

	gen, err := c.Generation(ctx, productID)
	require.NoError(t, err)
	otherGen, err := c.Generation(ctx, other)
	require.NoError(t, err)

	// A writer commits between the reader's sum and its Set.
	require.NoError(t, c.Invalidate(ctx, productID))

	require.NoError(t, c.Set(ctx, productID, 10, gen))
	_, ok, _ := c.Get(ctx, productID)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, other, 3, otherGen))
	qty, ok, _ := c.Get(ctx, other)
	assert.True(t, ok)
	assert.Equal(t, types.Quantity(3), qty)

	fresh, err := c.Generation(ctx, productID)
	require.NoError(t, err)
	assert.NotEqual(t, gen, fresh)
	require.NoError(t, c.Set(ctx, productID, 6, fresh))
	qty, ok, _ = c.Get(ctx, productID)
	assert.True(t, ok)
	assert.Equal(t, types.Quantity(6), qty)
}

func TestLocalStockCache_ClearNeverRepeatsGeneration(t *testing.T) {
	c := NewLocalStockCache(0)
	ctx := context.Background()
	productID := id.New()

	require.NoError(t, c.Invalidate(ctx, productID))
	require.NoError(t, c.Invalidate(ctx, productID))
	gen, _ := c.Generation(ctx, productID)

	c.handleNotification(ctx, "not-a-uuid")
	require.NoError(t, c.Set(ctx, productID, 10, gen))
	_, ok, _ := c.Get(ctx, productID)
	assert.False(t, ok)

	after, _ := c.Generation(ctx, productID)
	assert.Greater(t, after, gen)
}

func TestLocalStockCache_StartWithoutPoolIsNoop(t *testing.T) {
	c := NewLocalStockCache(time.Second)
	c.Start(context.Background())
	c.Stop()
	assert.False(t, c.started)
}

func TestNoopStockCache(t *testing.T) {
	var c NoopStockCache
	ctx := context.Background()
	productID := id.New()

	gen, err := c.Generation(ctx, productID)
	require.NoError(t, err)
	assert.Zero(t, gen)
	require.NoError(t, c.Set(ctx, productID, 5, gen))
	_, ok, err := c.Get(ctx, productID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, productID))
}
