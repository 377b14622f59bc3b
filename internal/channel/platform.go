package channel

import (
	"context"
	"errors"
)

var (
	// ErrConflict reports that another consumer is already receiving updates
	// for the same bot (HTTP 409 on the platform side).
	ErrConflict = errors.New("channel: conflict with another receiving consumer")
	// ErrUnauthorized reports rejected credentials. It is never retried.
	ErrUnauthorized = errors.New("channel: unauthorized")
)

// InboundHandler processes one received message.
type InboundHandler func(ctx context.Context, msg Message) error

// Sender delivers content to a chat id or a public channel handle.
type Sender interface {
	Send(ctx context.Context, target string, content Content) error
}

// Platform opens pull-mode connections to the messaging platform.
type Platform interface {
	// ClearWebhook removes any push-delivery registration so the platform
	// delivers updates to pull requests only.
	ClearWebhook(ctx context.Context) error
	// Connect starts receiving. Credential failures wrap ErrUnauthorized.
	Connect(ctx context.Context) (Connection, error)
}

// Connection is one live pull-mode receive loop. The loop retries transport
// errors itself; every error it hits is also reported on Errors, wrapped with
// ErrConflict when the platform reports a competing consumer.
type Connection interface {
	Updates() <-chan Message
	Errors() <-chan error
	// Close stops receiving. It is idempotent.
	Close(ctx context.Context) error
}
