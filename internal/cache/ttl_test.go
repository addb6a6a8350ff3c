package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func TestTTL_GetSetExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := New[string, int](2*time.Minute, 0, clock.Now)

	c.Set("q1", 7)
	v, ok := c.Get("q1")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	clock.now = clock.now.Add(119 * time.Second)
	_, ok = c.Get("q1")
	assert.True(t, ok)

	clock.now = clock.now.Add(time.Second)
	_, ok = c.Get("q1")
	assert.False(t, ok, "entry must expire exactly at the TTL boundary")
	assert.Equal(t, 0, c.Len())
}

func TestTTL_Invalidate(t *testing.T) {
	c := New[string, string](time.Minute, 0, nil)
	c.Set("a", "x")
	c.Invalidate("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTL_EvictsOldestWhenFull(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := New[string, int](time.Hour, 2, clock.Now)

	c.Set("a", 1)
	clock.now = clock.now.Add(time.Second)
	c.Set("b", 2)
	clock.now = clock.now.Add(time.Second)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestTTL_EvictsExpiredBeforeOldest(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := New[string, int](time.Minute, 2, clock.Now)

	c.Set("a", 1)
	clock.now = clock.now.Add(2 * time.Minute)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}
