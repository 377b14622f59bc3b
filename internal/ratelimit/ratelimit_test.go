package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
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

func newLimiter(clock *fakeClock, general, expensive int) *Limiter {
	return New(nil, Options{
		Rules: map[Class]Rule{
			ClassGeneral:   {Limit: general, Window: time.Minute},
			ClassExpensive: {Limit: expensive, Window: time.Minute},
		},
		Now: clock.Now,
	})
}

func TestAllowSixthCommandRejectedThenAcceptedAfterWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newLimiter(clock, 5, 2)

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("u1", ClassGeneral), "command %d", i+1)
		clock.Advance(2 * time.Second)
	}
	assert.False(t, l.Allow("u1", ClassGeneral), "6th command within 10s must be rejected")

	// 61 seconds after the first command, the first slot has expired.
	clock.Advance(61*time.Second - 10*time.Second)
	assert.True(t, l.Allow("u1", ClassGeneral))
}

func TestAllowAtMostLimitPerKey(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newLimiter(clock, 3, 1)

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		for _, user := range []string{"a", "b"} {
			for _, class := range []Class{ClassGeneral, ClassExpensive} {
				if l.Allow(user, class) {
					counts[user+string(class)]++
				}
			}
		}
	}
	assert.Equal(t, 3, counts["ageneral"])
	assert.Equal(t, 3, counts["bgeneral"])
	assert.Equal(t, 1, counts["aexpensive"])
	assert.Equal(t, 1, counts["bexpensive"])
}

func TestDeniedCallsDoNotConsumeSlots(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newLimiter(clock, 2, 1)

	require.True(t, l.Allow("u", ClassGeneral))
	clock.Advance(30 * time.Second)
	require.True(t, l.Allow("u", ClassGeneral))

	// Spam past the limit; none of these may extend the window.
	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		assert.False(t, l.Allow("u", ClassGeneral))
	}

	// t=60s+: the first permitted event expired, so exactly one slot frees up,
	// regardless of how many denied attempts happened in between.
	clock.Advance(11 * time.Second)
	assert.True(t, l.Allow("u", ClassGeneral))
	assert.False(t, l.Allow("u", ClassGeneral))
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newLimiter(clock, 3, 1)
	assert.Equal(t, 3, l.Remaining("u", ClassGeneral))
	l.Allow("u", ClassGeneral)
	assert.Equal(t, 2, l.Remaining("u", ClassGeneral))
	assert.Equal(t, 1, l.Remaining("u", ClassExpensive))
}

func TestSweepDropsEmptyWindows(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newLimiter(clock, 3, 1)
	l.Allow("a", ClassGeneral)
	l.Allow("b", ClassExpensive)
	require.Equal(t, 2, l.Size())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 0, l.Sweep())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 0, l.Size())
}

func TestConcurrentSameUserNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := newLimiter(clock, 5, 1)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("double-tap", ClassGeneral) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), allowed.Load())
}

func TestStartSweepsPeriodically(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(nil, Options{SweepInterval: 5 * time.Millisecond, Now: clock.Now})
	l.Allow("u", ClassGeneral)
	clock.Advance(2 * time.Minute)

	h := l.Start(context.Background())
	defer h.Stop()
	assert.Eventually(t, func() bool { return l.Size() == 0 }, time.Second, time.Millisecond)
}
