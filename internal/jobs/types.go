// Package jobs submits generation requests to an external provider and
// polls them to a terminal outcome.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/memohai/promobot/internal/storage"
)

var (
	// ErrProvider wraps every submit or status failure of the provider.
	ErrProvider = errors.New("jobs: provider failure")
	// ErrTimeout marks a job that did not finish within its maximum wait.
	ErrTimeout = errors.New("jobs: timeout")
	// ErrNotFound is returned for task ids the tracker does not hold.
	ErrNotFound = errors.New("jobs: unknown task")
)

// Status is the provider-side state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outcome explains how a wait ended. The empty outcome means the job is
// still in flight.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeRejected means the provider explicitly failed the job.
	OutcomeRejected Outcome = "rejected"
	// OutcomeProviderError means status calls kept failing.
	OutcomeProviderError Outcome = "provider_error"
	// OutcomeTimeout means the job never finished within the maximum wait.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCanceled means the caller stopped waiting. It is never stored.
	OutcomeCanceled Outcome = "canceled"
)

// TimeoutReason is the error reason recorded on timed-out jobs.
const TimeoutReason = "timeout"

// Request describes one generation job.
type Request struct {
	Kind        string
	Prompt      string
	Mode        string
	Duration    int
	AspectRatio string
	ImageURL    string
}

// Submission is the provider's answer to a submit.
type Submission struct {
	TaskID       string
	CostEstimate float64
}

// Report is the provider's answer to a status check.
type Report struct {
	Status      Status
	ResultURL   string
	ErrorReason string
}

// Provider is the external generation API.
type Provider interface {
	Submit(ctx context.Context, req Request) (Submission, error)
	Status(ctx context.Context, taskID string) (Report, error)
}

// Job is a tracked external task.
type Job struct {
	TaskID       string    `json:"task_id"`
	Kind         string    `json:"kind"`
	Prompt       string    `json:"prompt,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Status       Status    `json:"status"`
	ResultURL    string    `json:"result_url,omitempty"`
	ErrorReason  string    `json:"error_reason,omitempty"`
	CostEstimate float64   `json:"cost_estimate"`
	Outcome      Outcome   `json:"outcome,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job reached a final status.
func (j Job) Terminal() bool {
	return j.Status.Terminal()
}

// Err returns the sentinel matching the job's outcome, or nil on success
// and while in flight.
func (j Job) Err() error {
	switch j.Outcome {
	case OutcomeTimeout:
		return ErrTimeout
	case OutcomeRejected, OutcomeProviderError:
		return ErrProvider
	case OutcomeCanceled:
		return context.Canceled
	default:
		return nil
	}
}

// Record converts a terminal job into its persisted form.
func (j Job) Record(userID string) storage.JobRecord {
	return storage.JobRecord{
		TaskID:       j.TaskID,
		UserID:       userID,
		Kind:         j.Kind,
		Status:       string(j.Status),
		Outcome:      string(j.Outcome),
		ResultURL:    j.ResultURL,
		ErrorReason:  j.ErrorReason,
		CostEstimate: j.CostEstimate,
		SubmittedAt:  j.SubmittedAt,
		FinishedAt:   j.FinishedAt,
	}
}

// WaitOptions bound one AwaitCompletion call. Zero fields are filled from
// the kind's profile, then from DefaultWait.
type WaitOptions struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

// DefaultWait is the profile used when neither the caller nor the kind sets one.
var DefaultWait = WaitOptions{PollInterval: 10 * time.Second, MaxWait: 5 * time.Minute}
