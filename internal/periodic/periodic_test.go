package periodic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEveryRunsUntilStopped(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := Every(context.Background(), 5*time.Millisecond, func(context.Context) {
		calls.Add(1)
	})
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())

	select {
	case <-h.Done():
	default:
		t.Fatal("expected done to be closed after Stop")
	}
	h.Stop()
}

func TestEveryStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	h := Every(ctx, time.Millisecond, func(context.Context) {})
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after context cancel")
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	assert.True(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
}
