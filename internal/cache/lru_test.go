package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_Expiry(t *testing.T) {
	now := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	c := NewLRU[int, string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set(1, "one")
	c.Set(2, "two")
	now = now.Add(30 * time.Second)
	c.Set(3, "three")
	now = now.Add(45 * time.Second)

	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 1, c.Len())

	s := NewSweeper(nil, c)
	now = now.Add(time.Hour)
	assert.Equal(t, 1, s.Sweep())
}

func TestLRU_PurgeAndDelete(t *testing.T) {
	c := NewLRU[string, int](5, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	assert.Equal(t, 1, c.Len())
	c.Purge()
	assert.Zero(t, c.Len())
	c.Set("c", 3)
	assert.Equal(t, 1, c.Len())
}

func TestSweeper_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(nil).Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
