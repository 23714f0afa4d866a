package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTTL_GetSet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTL[int](time.Minute, clock.Now)

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Set("answer", 42)

	got, ok := c.Get("answer")
	require.True(t, ok)
	require.Equal(t, 42, got)
}

func TestTTL_ExpiryWithInjectedClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTL[string](time.Minute, clock.Now)

	c.Set("k", "v")

	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok, "still fresh just before the TTL")

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	require.False(t, ok, "expired exactly at the TTL")
	require.Zero(t, c.Len(), "expired entry is swept on access")
}

func TestTTL_SetResetsLifetime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTTL[string](time.Minute, clock.Now)

	c.Set("k", "old")
	clock.Advance(45 * time.Second)
	c.Set("k", "new")
	clock.Advance(45 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "new", got)
}

func TestTTL_Invalidate(t *testing.T) {
	c := NewTTL[string](time.Minute, nil)

	c.Set("k", "v")
	c.Invalidate("k")

	_, ok := c.Get("k")
	require.False(t, ok)
}
