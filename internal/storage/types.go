// Package storage defines the persistence collaborator used at wizard
// completion, job handoff, and for the activity log.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// Profile is a channel publishing profile captured by the profile wizard.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Channel   string    `json:"channel"`
	Tone      string    `json:"tone"`
	Topics    string    `json:"topics,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// JobRecord is the terminal snapshot of an external generation job.
type JobRecord struct {
	TaskID       string    `json:"task_id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Outcome      string    `json:"outcome"`
	ResultURL    string    `json:"result_url,omitempty"`
	ErrorReason  string    `json:"error_reason,omitempty"`
	CostEstimate float64   `json:"cost_estimate"`
	SubmittedAt  time.Time `json:"submitted_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Activity outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
	OutcomeError   = "error"
)

// ActivityRecord is an append-only audit entry.
type ActivityRecord struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Action      string         `json:"action"`
	Description string         `json:"description,omitempty"`
	Outcome     string         `json:"outcome"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// UserStats summarizes what one user has done with the bot.
type UserStats struct {
	Interactions int `json:"interactions"`
	// Generations counts successful content generations, cached or not.
	Generations int       `json:"generations"`
	Posts       int       `json:"posts"`
	Videos      int       `json:"videos"`
	Failures    int       `json:"failures"`
	LastActive  time.Time `json:"last_active,omitempty"`
}

// Store is implemented by the memory, postgres and sqlite backends.
type Store interface {
	// SaveProfile inserts p. The first profile of a user becomes its default.
	SaveProfile(ctx context.Context, p Profile) (Profile, error)
	// DefaultProfile returns the user's default profile or ErrNotFound.
	DefaultProfile(ctx context.Context, userID string) (Profile, error)
	// ListProfiles returns the user's profiles, oldest first.
	ListProfiles(ctx context.Context, userID string) ([]Profile, error)
	SaveJob(ctx context.Context, job JobRecord) error
	AppendActivity(ctx context.Context, rec ActivityRecord) error
	// UserStats aggregates the user's activity log and finished jobs.
	UserStats(ctx context.Context, userID string) (UserStats, error)
}
