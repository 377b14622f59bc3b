// Package bounded runs collaborator calls that may ignore their context.
package bounded

import (
	"context"
	"time"
)

// Call runs fn with ctx, limited to timeout when it is positive, and returns
// as soon as fn returns or the context is done. A call that ignores its
// context keeps running in the background; its result is dropped.
func Call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
