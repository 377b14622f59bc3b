package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/periodic"
	"github.com/memohai/promobot/internal/shard"
)

const (
	DefaultCallTimeout     = 30 * time.Second
	DefaultMaxStatusErrors = 3
)

// Options configures a Tracker.
type Options struct {
	// CallTimeout bounds every single provider call.
	CallTimeout time.Duration
	// MaxStatusErrors consecutive failed status calls end a wait with
	// OutcomeProviderError.
	MaxStatusErrors int
	// Profiles holds per-kind wait defaults.
	Profiles map[string]WaitOptions
	Now      func() time.Time
}

// Tracker owns the in-flight jobs. Only its poll loop mutates them.
type Tracker struct {
	provider        Provider
	jobs            *shard.Map[*Job]
	callTimeout     time.Duration
	maxStatusErrors int
	profiles        map[string]WaitOptions
	now             func() time.Time
	logger          *slog.Logger
}

// NewTracker creates a Tracker on top of provider.
func NewTracker(log *slog.Logger, provider Provider, opts Options) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MaxStatusErrors <= 0 {
		opts.MaxStatusErrors = DefaultMaxStatusErrors
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	profiles := map[string]WaitOptions{}
	for kind, p := range opts.Profiles {
		profiles[strings.ToLower(kind)] = p
	}
	return &Tracker{
		provider:        provider,
		jobs:            shard.New[*Job](shard.DefaultCount),
		callTimeout:     opts.CallTimeout,
		maxStatusErrors: opts.MaxStatusErrors,
		profiles:        profiles,
		now:             opts.Now,
		logger:          log.With(slog.String("component", "jobs")),
	}
}

// WaitFor resolves the effective wait options for kind.
func (t *Tracker) WaitFor(kind string, opts WaitOptions) WaitOptions {
	profile, ok := t.profiles[strings.ToLower(kind)]
	if !ok {
		profile = DefaultWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = profile.PollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = profile.MaxWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultWait.PollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultWait.MaxWait
	}
	return opts
}

// Submit forwards req to the provider and starts tracking the returned task.
// A provider rejection fails fast with ErrProvider.
func (t *Tracker) Submit(ctx context.Context, req Request) (Job, error) {
	var sub Submission
	err := bounded.Call(ctx, t.callTimeout, func(ctx context.Context) error {
		var err error
		sub, err = t.provider.Submit(ctx, req)
		return err
	})
	if err != nil {
		t.logger.Warn("submit failed", slog.String("kind", req.Kind), slog.Any("error", err))
		return Job{}, fmt.Errorf("%w: submit: %w", ErrProvider, err)
	}
	if strings.TrimSpace(sub.TaskID) == "" {
		return Job{}, fmt.Errorf("%w: submit returned no task id", ErrProvider)
	}
	job := &Job{
		TaskID:       sub.TaskID,
		Kind:         req.Kind,
		Prompt:       req.Prompt,
		SubmittedAt:  t.now(),
		Status:       StatusQueued,
		CostEstimate: sub.CostEstimate,
	}
	t.jobs.Do(job.TaskID, func(items map[string]*Job) {
		items[job.TaskID] = job
	})
	t.logger.Info("job submitted", slog.String("task_id", job.TaskID), slog.String("kind", job.Kind), slog.Float64("cost", job.CostEstimate))
	return *job, nil
}

// Get returns a snapshot of a tracked job.
func (t *Tracker) Get(taskID string) (Job, bool) {
	var out Job
	found := false
	t.jobs.Do(taskID, func(items map[string]*Job) {
		if j := items[taskID]; j != nil {
			out = *j
			found = true
		}
	})
	return out, found
}

// Discard stops tracking a job once its owner has consumed it.
func (t *Tracker) Discard(taskID string) bool {
	return t.jobs.Delete(taskID)
}

// Len returns the number of tracked jobs.
func (t *Tracker) Len() int {
	return t.jobs.Len()
}

// AwaitCompletion polls the provider until the job is terminal or MaxWait
// elapses. The first poll happens immediately. It never returns an error
// for provider behavior; the returned Job's Outcome says how the wait
// ended. A timed-out job is recorded as failed and is never updated again,
// even if the provider completes it later. If ctx ends first the job is
// left untouched and the snapshot carries OutcomeCanceled.
func (t *Tracker) AwaitCompletion(ctx context.Context, taskID string, opts WaitOptions) (Job, error) {
	job, ok := t.Get(taskID)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if job.Terminal() {
		return job, nil
	}
	opts = t.WaitFor(job.Kind, opts)
	log := t.logger.With(slog.String("task_id", taskID))

	waitCtx, cancel := context.WithTimeout(ctx, opts.MaxWait)
	defer cancel()

	failures := 0
	var lastErr error
	for {
		report, err := t.status(waitCtx, taskID)
		switch {
		case err != nil && waitCtx.Err() != nil:
			// The call was cut by the wait deadline or the caller.
		case err != nil:
			failures++
			lastErr = err
			log.Warn("status check failed", slog.Int("consecutive", failures), slog.Any("error", err))
			if failures >= t.maxStatusErrors {
				return t.finish(taskID, StatusFailed, "", fmt.Sprintf("status check failed: %v", lastErr), OutcomeProviderError), nil
			}
		default:
			failures = 0
			if report.Status.Terminal() {
				outcome := OutcomeCompleted
				if report.Status == StatusFailed {
					outcome = OutcomeRejected
				}
				return t.finish(taskID, report.Status, report.ResultURL, report.ErrorReason, outcome), nil
			}
			t.progress(taskID, report.Status)
		}
		if !periodic.Sleep(waitCtx, opts.PollInterval) {
			break
		}
	}

	if ctx.Err() != nil {
		snapshot, _ := t.Get(taskID)
		if !snapshot.Terminal() {
			snapshot.Outcome = OutcomeCanceled
		}
		log.Debug("wait canceled")
		return snapshot, nil
	}
	log.Warn("job timed out", slog.Duration("max_wait", opts.MaxWait))
	return t.finish(taskID, StatusFailed, "", TimeoutReason, OutcomeTimeout), nil
}

func (t *Tracker) status(ctx context.Context, taskID string) (Report, error) {
	var report Report
	err := bounded.Call(ctx, t.callTimeout, func(ctx context.Context) error {
		var err error
		report, err = t.provider.Status(ctx, taskID)
		return err
	})
	return report, err
}

func (t *Tracker) progress(taskID string, status Status) {
	if status != StatusQueued && status != StatusProcessing {
		status = StatusProcessing
	}
	t.jobs.Do(taskID, func(items map[string]*Job) {
		if j := items[taskID]; j != nil && !j.Terminal() {
			j.Status = status
		}
	})
}

// finish moves a job to a terminal status once. Later calls return the
// first terminal snapshot unchanged.
func (t *Tracker) finish(taskID string, status Status, resultURL, reason string, outcome Outcome) Job {
	var out Job
	t.jobs.Do(taskID, func(items map[string]*Job) {
		j := items[taskID]
		if j == nil {
			out = Job{TaskID: taskID, Status: status, ResultURL: resultURL, ErrorReason: reason, Outcome: outcome, FinishedAt: t.now()}
			return
		}
		if !j.Terminal() {
			j.Status = status
			j.ResultURL = resultURL
			j.ErrorReason = reason
			j.Outcome = outcome
			j.FinishedAt = t.now()
		}
		out = *j
	})
	t.logger.Info("job finished", slog.String("task_id", taskID), slog.String("outcome", string(out.Outcome)))
	return out
}
