// ABOUTME: Tests for the dedupe TTL cache
// ABOUTME: Validates expiry, eviction order, Forget, and concurrent marking

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheCheckAndMark(t *testing.T) {
	cache := NewCache(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("zapi:MSG1"), "first delivery is new")
	assert.True(t, cache.CheckAndMark("zapi:MSG1"), "second delivery is a duplicate")
	assert.False(t, cache.CheckAndMark("zapi:MSG2"), "different key is new")
}

func TestCacheExpiry(t *testing.T) {
	cache := NewCache(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("k"))
	assert.True(t, cache.CheckAndMark("k"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.CheckAndMark("k"), "expired entry is treated as new")
}

func TestCacheForget(t *testing.T) {
	cache := NewCache(5*time.Minute, 100)
	defer cache.Close()

	cache.CheckAndMark("zapi:FAILED")
	cache.Forget("zapi:FAILED")

	assert.False(t, cache.CheckAndMark("zapi:FAILED"), "forgotten key passes again")

	// Forgetting an absent key is a no-op.
	cache.Forget("never-marked")
}

func TestCacheEvictsOldest(t *testing.T) {
	cache := NewCache(5*time.Minute, 3)
	defer cache.Close()

	cache.CheckAndMark("a")
	cache.CheckAndMark("b")
	cache.CheckAndMark("c")

	// Re-marking moves a key to the back of the eviction order.
	cache.CheckAndMark("a")

	cache.CheckAndMark("d")

	assert.False(t, cache.CheckAndMark("b"), "b was oldest and got evicted")
	assert.True(t, cache.CheckAndMark("a"))
	assert.Equal(t, 3, cache.Len())
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	cache := NewCache(10*time.Millisecond, 100)
	defer cache.Close()

	cache.CheckAndMark("x")
	cache.CheckAndMark("y")
	time.Sleep(20 * time.Millisecond)

	cache.sweep()
	assert.Equal(t, 0, cache.Len())
}

func TestCacheConcurrentSameKey(t *testing.T) {
	cache := NewCache(5*time.Minute, 100)
	defer cache.Close()

	const goroutines = 100
	var winners atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contested") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one delivery wins")
}

func TestCacheConcurrentDistinctKeys(t *testing.T) {
	cache := NewCache(5*time.Minute, 10_000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cache.CheckAndMark(fmt.Sprintf("key-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2500, cache.Len())
}

func TestCacheCloseIdempotent(t *testing.T) {
	cache := NewCache(5*time.Minute, 100)
	cache.Close()
	cache.Close()
}
