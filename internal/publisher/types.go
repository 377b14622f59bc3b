package publisher

import (
	"context"
	"time"

	"github.com/memohai/promobot/internal/channel"
)

// Post is one scheduled channel post.
type Post struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Topic   string `json:"topic"`
	Tone    string `json:"tone,omitempty"`
	Target  string `json:"target"`
	// MaxCalls disables the post after this many runs; nil means unlimited.
	MaxCalls *int `json:"max_calls,omitempty"`
}

// PostStatus is a post plus its run bookkeeping.
type PostStatus struct {
	Post
	Enabled      bool      `json:"enabled"`
	CurrentCalls int       `json:"current_calls"`
	NextRun      time.Time `json:"next_run,omitempty"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Outbound delivers built content; the command router implements it.
type Outbound interface {
	Publish(ctx context.Context, target string, c channel.Content) error
}
