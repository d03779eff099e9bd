package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewLRUCache[string](10, time.Second)
	c.now = clock.now

	c.Set("a", "x")
	c.Set("b", "y")
	clock.t = clock.t.Add(2 * time.Second)
	c.Set("c", "z")

	assert.Equal(t, 2, c.CleanExpired())
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestLRUPurgeAndDelete(t *testing.T) {
	c := NewLRUCache[int](4, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	assert.Equal(t, 1, c.Size())
	c.Purge()
	assert.Equal(t, 0, c.Size())
	c.Set("c", 3)
	assert.Equal(t, 1, c.Size())
}

type countingObserver struct{ hits, misses int }

func (o *countingObserver) CacheHit(string)  { o.hits++ }
func (o *countingObserver) CacheMiss(string) { o.misses++ }

func TestMemoGetOrCompute(t *testing.T) {
	obs := &countingObserver{}
	m := NewMemo[int]("chart", 8, time.Minute, obs)

	calls := 0
	compute := func() int {
		calls++
		return 42
	}

	assert.Equal(t, 42, m.GetOrCompute(Key(1, "abc"), compute))
	assert.Equal(t, 42, m.GetOrCompute(Key(1, "abc"), compute))
	assert.Equal(t, 1, calls)

	// a new store version is a different key
	m.GetOrCompute(Key(2, "abc"), compute)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 2, obs.misses)
}

func TestManagerCleanNowAndStop(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewLRUCache[int](4, time.Second)
	c.now = clock.now
	c.Set("a", 1)
	clock.t = clock.t.Add(time.Minute)

	m := NewManager(nil)
	m.Register(c)
	assert.Equal(t, 1, m.CleanNow())

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
