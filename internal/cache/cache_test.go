package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetMissThenSetThenHit(t *testing.T) {
	ctx := context.Background()
	c := NewInProcess(10)

	_, ok := c.Get(ctx, "CO_X", "entity")
	assert.False(t, ok)

	c.Set(ctx, "CO_X", "entity", []byte(`{"a":1}`), time.Minute)
	val, ok := c.Get(ctx, "CO_X", "entity")
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(val))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestInvalidateDropsAllShapesForSynID(t *testing.T) {
	ctx := context.Background()
	c := NewInProcess(10)

	c.Set(ctx, "CO_X", "entity", []byte("e"), time.Minute)
	c.Set(ctx, "CO_X", "aliases", []byte("a"), time.Minute)
	c.Set(ctx, "CO_Y", "entity", []byte("other"), time.Minute)

	c.Invalidate(ctx, "CO_X")

	_, ok := c.Get(ctx, "CO_X", "entity")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "CO_X", "aliases")
	assert.False(t, ok)

	val, ok := c.Get(ctx, "CO_Y", "entity")
	assert.True(t, ok, "invalidating one syn_id must not touch another's entries")
	assert.Equal(t, "other", string(val))
}

func TestExpiredEntryIsTreatedAsMiss(t *testing.T) {
	ctx := context.Background()
	c := NewInProcess(10)
	c.Set(ctx, "CO_X", "entity", []byte("e"), time.Nanosecond)
	// Set adds up to JitterWindow of random jitter on top of the TTL, so
	// move the entry's expiry into the past instead of sleeping past it.
	key := cacheKey("CO_X", "entity")
	e := c.entries[key]
	e.expiresAt = time.Now().Add(-time.Second)
	c.entries[key] = e

	_, ok := c.Get(ctx, "CO_X", "entity")
	assert.False(t, ok)
}

func TestCapacityEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewInProcess(2)
	c.Set(ctx, "CO_A", "entity", []byte("a"), time.Minute)
	c.Set(ctx, "CO_B", "entity", []byte("b"), time.Minute)
	c.Set(ctx, "CO_C", "entity", []byte("c"), time.Minute)

	assert.LessOrEqual(t, c.Stats().EntryCount, 2)
}

func TestZeroOrNegativeCapacityUsesDefault(t *testing.T) {
	c := NewInProcess(0)
	assert.Equal(t, DefaultCapacity, c.capacity)
}

var _ Cache = (*InProcess)(nil)
