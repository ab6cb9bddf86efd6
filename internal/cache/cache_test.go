package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedComputesOncePerSignature(t *testing.T) {
	c := New[[]string]()
	var calls atomic.Int32
	compute := func() ([]string, error) {
		calls.Add(1)
		return []string{"alice", "bob"}, nil
	}

	first, err := c.CachedQuery("SELECT name FROM user_data", nil, compute)
	require.NoError(t, err)
	second, err := c.CachedQuery("SELECT name FROM user_data", nil, compute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestCachedDistinguishesArguments(t *testing.T) {
	c := New[int]()
	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	a, _ := c.CachedQuery("SELECT * FROM user_data WHERE age > ?", []any{30}, compute)
	b, _ := c.CachedQuery("SELECT * FROM user_data WHERE age > ?", []any{40}, compute)
	again, _ := c.CachedQuery("SELECT * FROM user_data WHERE age > ?", []any{30}, compute)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, again)
	assert.Equal(t, 2, c.Len())
}

func TestDefaultKey(t *testing.T) {
	assert.Equal(t, DefaultKey("q", 1, "a"), DefaultKey("q", 1, "a"))
	assert.NotEqual(t, DefaultKey("q", 1), DefaultKey("q", "1"), "argument types are part of the key")
	assert.NotEqual(t, DefaultKey("q", "a,b"), DefaultKey("q", "a", "b"))
	assert.NotEqual(t, DefaultKey("SELECT 1"), DefaultKey("select 1"), "query text is not normalized")
	assert.Equal(t, Signature("q"), DefaultKey("q"))
}

func TestClearForcesRecompute(t *testing.T) {
	c := New[int]()
	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	v, _ := c.CachedQuery("q", nil, compute)
	assert.Equal(t, 1, v)

	c.Clear()
	assert.Equal(t, 0, c.Len())

	v, _ = c.CachedQuery("q", nil, compute)
	assert.Equal(t, 2, v)
}

func TestClearDuringComputeIsNotUndone(t *testing.T) {
	c := New[string]()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan string)
	go func() {
		v, _ := c.Cached("sig", func() (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()

	<-started
	c.Clear()
	close(release)
	assert.Equal(t, "stale", <-done, "in-flight caller still gets its result")
	assert.Equal(t, 0, c.Len())

	calls := 0
	v, err := c.Cached("sig", func() (string, error) {
		calls++
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, 1, calls)
}

func TestFailuresAreNotCached(t *testing.T) {
	c := New[int]()
	boom := errors.New("boom")

	_, err := c.CachedQuery("q", nil, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	_, ok := c.Get(c.Key("q"))
	assert.False(t, ok)

	v, err := c.CachedQuery("q", nil, func() (int, error) { return 9, nil })
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestWithKeyFunc(t *testing.T) {
	c := New[int](WithKeyFunc(func(query string, args ...any) Signature {
		return "same"
	}), WithName("custom"))

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	_, _ = c.CachedQuery("a", nil, compute)
	_, _ = c.CachedQuery("b", []any{1}, compute)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Signature("same"), c.Key("anything"))
}

func TestConcurrentAccess(t *testing.T) {
	c := New[string]()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			query := fmt.Sprintf("q%d", i%5)
			v, err := c.CachedQuery(query, nil, func() (string, error) {
				return query, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, query, v)
			if i%10 == 0 {
				c.Clear()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 5)
	stats := c.Stats()
	assert.Equal(t, int64(50), stats.Hits+stats.Misses)
}
