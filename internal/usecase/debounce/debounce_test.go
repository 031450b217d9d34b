package debounce

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func TestIsDuplicateWithinWindow(t *testing.T) {
	clock := newClock()
	d := New(time.Second, 100, WithClock(clock.Now))

	assert.False(t, d.IsDuplicate(123, "sign:aries"))
	assert.True(t, d.IsDuplicate(123, "sign:aries"))

	clock.Advance(999 * time.Millisecond)
	assert.True(t, d.IsDuplicate(123, "sign:aries"))
}

func TestIsDuplicateAfterWindow(t *testing.T) {
	clock := newClock()
	d := New(time.Second, 100, WithClock(clock.Now))

	assert.False(t, d.IsDuplicate(1, "tarot:draw"))
	clock.Advance(time.Second)
	assert.False(t, d.IsDuplicate(1, "tarot:draw"))
	assert.True(t, d.IsDuplicate(1, "tarot:draw"))
}

func TestIsDuplicateKeyIncludesUserAndPayload(t *testing.T) {
	d := New(time.Second, 100, WithClock(newClock().Now))

	assert.False(t, d.IsDuplicate(1, "sub:leo"))
	assert.False(t, d.IsDuplicate(2, "sub:leo"))
	assert.False(t, d.IsDuplicate(1, "unsub:leo"))
}

func TestExpiredEntriesPurged(t *testing.T) {
	clock := newClock()
	d := New(time.Second, 100, WithClock(clock.Now))
	for i := 0; i < 10; i++ {
		d.IsDuplicate(int64(i), "x")
	}
	assert.Equal(t, 10, d.Len())

	clock.Advance(2 * time.Second)
	d.IsDuplicate(999, "x")
	assert.Equal(t, 1, d.Len())
}

func TestSizeNeverExceedsMax(t *testing.T) {
	clock := newClock()
	d := New(time.Hour, 50, WithClock(clock.Now))
	for i := 0; i < 500; i++ {
		d.IsDuplicate(int64(i), fmt.Sprintf("sign:%d", i%7))
		clock.Advance(time.Millisecond)
		assert.LessOrEqual(t, d.Len(), 50)
	}
}

func TestOldestEvictedFirst(t *testing.T) {
	clock := newClock()
	d := New(time.Hour, 2, WithClock(clock.Now))

	d.IsDuplicate(1, "a")
	clock.Advance(time.Millisecond)
	d.IsDuplicate(2, "a")
	clock.Advance(time.Millisecond)
	d.IsDuplicate(3, "a")

	assert.False(t, d.IsDuplicate(1, "a"), "первая запись вытеснена")
	assert.True(t, d.IsDuplicate(3, "a"))
}

func TestIndependentInstances(t *testing.T) {
	clock := newClock()
	a := New(time.Second, 10, WithClock(clock.Now))
	b := New(time.Second, 10, WithClock(clock.Now))

	assert.False(t, a.IsDuplicate(1, "x"))
	assert.False(t, b.IsDuplicate(1, "x"))
}

func TestDefaults(t *testing.T) {
	d := New(0, 0)
	assert.Equal(t, DefaultWindow, d.window)
	assert.Equal(t, DefaultMaxEntries, d.maxEntries)
}
