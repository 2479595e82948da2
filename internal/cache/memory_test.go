package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
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

func result(answer string) *model.Result {
	return &model.Result{Question: "q", Type: model.TypeSingle, Answer: answer, Source: model.SourceAI}
}

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Hour)

	_, ok, err := c.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "fp1", result("A"), 0))
	got, ok, err := c.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", got.Answer)

	// Overwrite.
	require.NoError(t, c.Set(ctx, "fp1", result("B"), 0))
	got, _, _ = c.Get(ctx, "fp1")
	assert.Equal(t, "B", got.Answer)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Hour)

	in := result("A")
	require.NoError(t, c.Set(ctx, "fp", in, 0))
	in.Answer = "mutated"

	got, _, _ := c.Get(ctx, "fp")
	got.Answer = "also mutated"

	again, _, _ := c.Get(ctx, "fp")
	assert.Equal(t, "A", again.Answer)
}

func TestMemory_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemory(10, time.Minute, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, "short", result("A"), 10*time.Second))
	require.NoError(t, c.Set(ctx, "default", result("B"), 0))

	clock.Advance(10 * time.Second)
	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok, "entry expires at its deadline")
	_, ok, _ = c.Get(ctx, "default")
	assert.True(t, ok)

	// Expired entry is removed from the map.
	assert.Equal(t, 1, c.Len())

	clock.Advance(time.Minute)
	_, ok, _ = c.Get(ctx, "default")
	assert.False(t, ok)
}

func TestMemory_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(3, time.Hour)

	for _, k := range []fingerprint.Fingerprint{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, result(string(k)), 0))
	}

	// Touch "a" so "b" becomes the oldest.
	_, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "d", result("d"), 0))

	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
	for _, k := range []fingerprint.Fingerprint{"a", "c", "d"} {
		_, ok, _ = c.Get(ctx, k)
		assert.True(t, ok, string(k))
	}
}

func TestMemory_InvalidateAllAndStats(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0, 0)

	require.NoError(t, c.Set(ctx, "a", result("A"), 0))
	_, _, _ = c.Get(ctx, "a")
	_, _, _ = c.Get(ctx, "missing")

	stats := c.Stats(ctx)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, DefaultMemorySize, stats.MaxEntries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)

	require.NoError(t, c.InvalidateAll(ctx))
	assert.Equal(t, 0, c.Len())
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(50, time.Hour)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 100 {
				fp := fingerprint.Fingerprint(fmt.Sprintf("k%d", (i*100+j)%80))
				_ = c.Set(ctx, fp, result("A"), 0)
				_, _, _ = c.Get(ctx, fp)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
