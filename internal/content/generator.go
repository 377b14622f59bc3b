// Package content produces the text the bot replies with and publishes.
package content

import (
	"context"
	"fmt"
	"strings"
)

// Kind selects what a Generator writes.
type Kind string

const (
	// KindViral is a short promotional post about a topic.
	KindViral Kind = "viral"
	// KindAnswer answers a free-form question.
	KindAnswer Kind = "answer"
	// KindPost is a scheduled channel post.
	KindPost Kind = "post"
	// KindVideoPrompt turns a topic into a prompt for the video model.
	KindVideoPrompt Kind = "video_prompt"
	// KindGrowthPlan is a 30-day channel growth plan.
	KindGrowthPlan Kind = "growth"
	// KindTrends lists current content trends in a niche.
	KindTrends Kind = "trends"
	// KindCompetitors compares leading channels in a niche.
	KindCompetitors Kind = "competitors"
)

// Request is the input of one generation.
type Request struct {
	Kind  Kind
	Topic string
	Tone  string
}

// Generator writes content. Implementations must honor ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Templates is an offline Generator used when no LLM is configured.
type Templates struct{}

func (Templates) Generate(_ context.Context, req Request) (string, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	switch req.Kind {
	case KindViral:
		return fmt.Sprintf("🔥 %s is moving fast. Here is what you need to know today, and why it matters for you. Share this with someone who should see it.", topic), nil
	case KindAnswer:
		return fmt.Sprintf("Good question about %q. A content model is not configured right now, so here is a pointer: start from the basics and check the pinned posts in the channel.", topic), nil
	case KindPost:
		return fmt.Sprintf("📌 Daily update: %s. Stay tuned for more.", topic), nil
	case KindVideoPrompt:
		return fmt.Sprintf("Cinematic short clip about %s, dynamic camera, vivid colors, social media format", topic), nil
	case KindGrowthPlan:
		return fmt.Sprintf("📈 30-day plan for a channel about %s\n"+
			"Week 1: fix the channel description and pin a welcome post. Post daily.\n"+
			"Week 2: publish two shareable posts a day and run a poll.\n"+
			"Week 3: arrange cross-promotion with two channels of the same size.\n"+
			"Week 4: keep the best formats and drop the rest.", topic), nil
	case KindTrends:
		return fmt.Sprintf("📈 What works around %s right now: short videos, polls and behind-the-scenes posts. Try one of each this week.", topic), nil
	case KindCompetitors:
		return fmt.Sprintf("🔍 To study competitors in %s, pick three channels bigger than yours, note their posting times and their most forwarded posts, and copy the format rather than the content.", topic), nil
	default:
		return "", fmt.Errorf("unsupported content kind: %s", req.Kind)
	}
}
