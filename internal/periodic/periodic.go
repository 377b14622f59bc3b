// Package periodic runs background work on a fixed interval behind a handle
// that can be stopped deterministically.
package periodic

import (
	"context"
	"sync"
	"time"
)

// Handle controls one periodic loop started by Every.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every calls fn every interval until ctx is done or Stop is called.
// fn is never called concurrently with itself.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) *Handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	if interval <= 0 {
		close(h.done)
		return h
	}
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				fn(loopCtx)
			}
		}
	}()
	return h
}

// Stop cancels the loop and waits for the in-flight call, if any, to return.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Sleep waits for d or until ctx is done, whichever comes first, and reports
// whether the full duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
