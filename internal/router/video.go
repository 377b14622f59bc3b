package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/jobs"
	"github.com/memohai/promobot/internal/storage"
)

const videoKind = "video"

// handleVideo submits a video job and acknowledges it right away. The wait
// runs in the background on the router lifetime, so the user can keep
// talking to the bot while the job is pending.
func (r *Router) handleVideo(ctx context.Context, req *Request) (channel.Content, error) {
	if r.deps.Tracker == nil {
		return channel.Content{}, userErr("Video generation is not configured.")
	}
	if !r.track() {
		return channel.Content{}, userErr("The bot is shutting down, please try again in a moment.")
	}
	started := false
	defer func() {
		if !started {
			r.wg.Done()
		}
	}()
	profile, ok := r.defaultProfile(ctx, req.Message.UserID)
	topic := r.topicFor(req, profile, ok)
	req.Meta["topic"] = topic
	prompt, err := r.generate(ctx, req, content.Request{Kind: content.KindVideoPrompt, Topic: topic})
	if err != nil {
		return channel.Content{}, err
	}

	job, err := r.deps.Tracker.Submit(ctx, jobs.Request{Kind: videoKind, Prompt: prompt})
	if err != nil {
		return channel.Content{}, err
	}
	req.Meta["task_id"] = job.TaskID
	req.Meta["cost_estimate"] = job.CostEstimate

	// Acknowledge before the wait starts so the result never arrives first.
	ack := channel.Text(fmt.Sprintf("🎬 Video task %s submitted (about $%.2f). I will send it here when it is ready.", job.TaskID, job.CostEstimate))
	if err := r.Reply(ctx, req.Message, ack); err != nil {
		r.logger.Warn("video ack not delivered", slog.String("task_id", job.TaskID), slog.Any("error", err))
	}

	started = true
	go r.awaitVideo(req.Message, job)
	return channel.Content{}, nil
}

func (r *Router) awaitVideo(msg channel.Message, job jobs.Job) {
	defer r.wg.Done()
	log := r.logger.With(slog.String("task_id", job.TaskID), slog.String("user_id", msg.UserID))

	done, err := r.deps.Tracker.AwaitCompletion(r.lifetime, job.TaskID, r.opts.VideoWait)
	if err != nil {
		log.Error("await video failed", slog.Any("error", err))
		return
	}
	if done.Outcome == jobs.OutcomeCanceled {
		log.Info("video wait canceled")
		return
	}
	defer r.deps.Tracker.Discard(job.TaskID)

	ctx := r.lifetime
	if err := r.Reply(ctx, msg, videoReply(done)); err != nil {
		log.Warn("video result not delivered", slog.Any("error", err))
	}

	if r.deps.Store != nil {
		err := bounded.Call(ctx, r.opts.StoreTimeout, func(ctx context.Context) error {
			return r.deps.Store.SaveJob(ctx, done.Record(msg.UserID))
		})
		if err != nil {
			log.Warn("save job failed", slog.Any("error", err))
		}
	}

	rec := storage.ActivityRecord{
		UserID:      msg.UserID,
		Action:      "video_result",
		Description: string(done.Outcome),
		Outcome:     storage.OutcomeSuccess,
		Metadata: map[string]any{
			"task_id":       done.TaskID,
			"cost_estimate": done.CostEstimate,
		},
	}
	switch done.Outcome {
	case jobs.OutcomeCompleted:
	case jobs.OutcomeTimeout:
		rec.Outcome = storage.OutcomeWarning
	default:
		rec.Outcome = storage.OutcomeError
		rec.Metadata["error"] = done.ErrorReason
	}
	r.appendActivity(ctx, rec)
}

func videoReply(job jobs.Job) channel.Content {
	switch job.Outcome {
	case jobs.OutcomeCompleted:
		return channel.Content{
			Text:        "🎬 Your video is ready!",
			Format:      channel.FormatPlain,
			Attachments: []channel.Attachment{{Type: channel.AttachmentVideo, URL: job.ResultURL}},
		}
	case jobs.OutcomeTimeout:
		return channel.Text(fmt.Sprintf("⌛ Video task %s did not finish in time. The provider may still finish it, but it will not be delivered here. Try /video again later.", job.TaskID))
	default:
		reason := job.ErrorReason
		if reason == "" {
			reason = "unknown error"
		}
		return channel.Text(fmt.Sprintf("⚠️ Video generation failed: %s. Please try /video again.", reason))
	}
}
