// ABOUTME: Tests for the replay cache
// ABOUTME: Covers lookup, expiry, size eviction and per-session forgetting

package replay

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_LookupMissing(t *testing.T) {
	cache := New(time.Minute, 10)

	_, ok := cache.Lookup(Key("tok", "1"))
	assert.False(t, ok)
}

func TestCache_RememberAndLookup(t *testing.T) {
	cache := New(time.Minute, 10)

	cache.Remember(Key("tok", "1"), json.RawMessage(`{"stored":"balance"}`))

	got, ok := cache.Lookup(Key("tok", "1"))
	require.True(t, ok)
	assert.JSONEq(t, `{"stored":"balance"}`, string(got))

	// Same request id on another session is a different request.
	_, ok = cache.Lookup(Key("other", "1"))
	assert.False(t, ok)
}

func TestCache_Expires(t *testing.T) {
	cache := New(20*time.Millisecond, 10)
	cache.Remember(Key("tok", "1"), json.RawMessage(`{}`))

	assert.Eventually(t, func() bool {
		_, ok := cache.Lookup(Key("tok", "1"))
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := New(time.Minute, 3)

	for i := range 4 {
		cache.Remember(Key("tok", fmt.Sprint(i)), json.RawMessage(`{}`))
	}

	assert.Equal(t, 3, cache.Len())
	_, ok := cache.Lookup(Key("tok", "0"))
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = cache.Lookup(Key("tok", "3"))
	assert.True(t, ok)
}

func TestCache_Forget(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Remember(Key("a", "1"), json.RawMessage(`{}`))
	cache.Remember(Key("a", "2"), json.RawMessage(`{}`))
	cache.Remember(Key("b", "1"), json.RawMessage(`{}`))

	cache.Forget("a")

	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Lookup(Key("b", "1"))
	assert.True(t, ok)
}

func TestCache_Defaults(t *testing.T) {
	cache := New(0, 0)
	cache.Remember("k", json.RawMessage(`1`))
	_, ok := cache.Lookup("k")
	assert.True(t, ok)
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(time.Minute, 100)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := Key(fmt.Sprint(g), fmt.Sprint(i))
				cache.Remember(key, json.RawMessage(`{}`))
				cache.Lookup(key)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 100)
}
