package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/cache"
	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/logger"
	"github.com/memohai/promobot/internal/publisher"
	"github.com/memohai/promobot/internal/ratelimit"
	"github.com/memohai/promobot/internal/storage"
	"github.com/memohai/promobot/internal/wizard"
)

const (
	rateLimitedText = "⏳ Slow down! You are sending commands too fast. Try again in a minute."
	timeoutText     = "⌛ This is taking longer than expected and was stopped. Please try again later."
	welcomeText     = "👋 Hi! I help you grow your channel: viral posts, answers and short videos."
	workingText     = "⏳ Working on it, this can take a minute..."

	// newcomerInteractions is the activity count below which /suggest
	// shows the getting-started advice.
	newcomerInteractions = 5
)

// slowKinds get a working notice before the generator is called.
var slowKinds = map[content.Kind]bool{
	content.KindGrowthPlan:  true,
	content.KindTrends:      true,
	content.KindCompetitors: true,
}

func (r *Router) registerBuiltins() {
	r.Register("start", ratelimit.ClassGeneral, "/start - introduction", r.handleStart)
	r.Register("help", ratelimit.ClassGeneral, "/help - list commands", r.handleHelp)
	r.Register("viral", ratelimit.ClassExpensive, "/viral [topic] - write a viral post", r.handleViral)
	r.Register("ask", ratelimit.ClassExpensive, "/ask <question> - ask anything", r.handleAsk)
	r.Register("video", ratelimit.ClassExpensive, "/video [topic] - generate a short video", r.handleVideo)
	r.Register("profile", ratelimit.ClassGeneral, "/profile - create a publishing profile", r.handleProfile)
	r.Register("profiles", ratelimit.ClassGeneral, "/profiles - list your profiles", r.handleProfiles)
	r.Register("cancel", ratelimit.ClassGeneral, "/cancel - abort the current dialog", r.handleCancel)
	r.Register("publish", ratelimit.ClassGeneral, "/publish <text> - post to your default channel", r.handlePublish)
	r.Register("status", ratelimit.ClassGeneral, "/status - show your limits and dialog state", r.handleStatus)
	r.Register("analytics", ratelimit.ClassGeneral, "/analytics - your activity stats", r.handleAnalytics)
	r.Register("growth", ratelimit.ClassExpensive, "/growth [topic] - 30-day growth plan", r.reportHandler(content.KindGrowthPlan, "📈 30-day growth plan"))
	r.Register("trends", ratelimit.ClassExpensive, "/trends [topic] - current content trends", r.reportHandler(content.KindTrends, "📈 Trends"))
	r.Register("competitors", ratelimit.ClassExpensive, "/competitors [topic] - competitor analysis", r.reportHandler(content.KindCompetitors, "🔍 Competitor analysis"))
	r.Register("suggest", ratelimit.ClassGeneral, "/suggest - what to do next", r.handleSuggest)
	r.Register("autopilot", ratelimit.ClassGeneral, "/autopilot - scheduled posts", r.handleAutopilot)
}

func (r *Router) helpText(prefix string) string {
	r.mu.RLock()
	lines := make([]string, 0, len(r.order)+2)
	if prefix != "" {
		lines = append(lines, prefix)
	}
	lines = append(lines, "Available commands:")
	for _, name := range r.order {
		if usage := r.commands[name].usage; usage != "" {
			lines = append(lines, usage)
		}
	}
	r.mu.RUnlock()
	return strings.Join(lines, "\n")
}

func (r *Router) handleStart(_ context.Context, _ *Request) (channel.Content, error) {
	return channel.Text(welcomeText + "\n\n" + r.helpText("")), nil
}

func (r *Router) handleHelp(_ context.Context, _ *Request) (channel.Content, error) {
	return channel.Text(r.helpText("")), nil
}

// defaultProfile returns the user's default profile, or false when the user
// has none or storage is unavailable.
func (r *Router) defaultProfile(ctx context.Context, userID string) (storage.Profile, bool) {
	if r.deps.Store == nil {
		return storage.Profile{}, false
	}
	var profile storage.Profile
	err := bounded.Call(ctx, r.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		profile, err = r.deps.Store.DefaultProfile(ctx, userID)
		return err
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("load default profile failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		return storage.Profile{}, false
	}
	return profile, true
}

// generate consults the cache before calling the generator and fills it on
// success.
func (r *Router) generate(ctx context.Context, req *Request, genReq content.Request) (string, error) {
	key := cache.Key(string(genReq.Kind), genReq.Topic, genReq.Tone)
	if r.deps.Cache != nil {
		if text, ok := r.deps.Cache.Get(key); ok {
			req.Meta["cached"] = true
			return text, nil
		}
	}
	if slowKinds[genReq.Kind] {
		if err := r.Reply(ctx, req.Message, channel.Text(workingText)); err != nil {
			logger.FromContext(ctx).Warn("working notice not delivered", slog.Any("error", err))
		}
	}
	var text string
	err := bounded.Call(ctx, r.opts.GenerateTimeout, func(ctx context.Context) error {
		var err error
		text, err = r.deps.Generator.Generate(ctx, genReq)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", genReq.Kind, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("generate %s: empty output", genReq.Kind)
	}
	if r.deps.Cache != nil {
		r.deps.Cache.Set(key, text)
	}
	req.Meta["cached"] = false
	return text, nil
}

func (r *Router) topicFor(req *Request, profile storage.Profile, hasProfile bool) string {
	if topic := strings.TrimSpace(req.Args); topic != "" {
		return topic
	}
	if hasProfile && strings.TrimSpace(profile.Topics) != "" {
		first, _, _ := strings.Cut(profile.Topics, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return r.opts.DefaultTopic
}

func (r *Router) handleViral(ctx context.Context, req *Request) (channel.Content, error) {
	profile, ok := r.defaultProfile(ctx, req.Message.UserID)
	topic := r.topicFor(req, profile, ok)
	req.Meta["topic"] = topic
	text, err := r.generate(ctx, req, content.Request{Kind: content.KindViral, Topic: topic, Tone: profile.Tone})
	if err != nil {
		return channel.Content{}, err
	}
	return channel.Text(text), nil
}

func (r *Router) handleAsk(ctx context.Context, req *Request) (channel.Content, error) {
	question := strings.TrimSpace(req.Args)
	if question == "" {
		return channel.Content{}, userErr("Usage: /ask <question>")
	}
	text, err := r.generate(ctx, req, content.Request{Kind: content.KindAnswer, Topic: question})
	if err != nil {
		return channel.Content{}, err
	}
	return channel.Text(text), nil
}

func (r *Router) handleProfile(_ context.Context, req *Request) (channel.Content, error) {
	if r.deps.Wizards == nil {
		return channel.Content{}, userErr("Profiles are not available right now.")
	}
	res, err := r.deps.Wizards.Begin(req.Message.UserID, wizard.ProfileWizard)
	if err != nil {
		return channel.Content{}, err
	}
	return channel.Text("Let's set up a publishing profile. Send /cancel to stop.\n" + res.Prompt), nil
}

func (r *Router) handleCancel(_ context.Context, req *Request) (channel.Content, error) {
	if r.deps.Wizards != nil && r.deps.Wizards.Cancel(req.Message.UserID) {
		return channel.Text("Cancelled."), nil
	}
	return channel.Text("Nothing to cancel."), nil
}

func (r *Router) handleProfiles(ctx context.Context, req *Request) (channel.Content, error) {
	if r.deps.Store == nil {
		return channel.Content{}, userErr("Profiles are not available right now.")
	}
	var profiles []storage.Profile
	err := bounded.Call(ctx, r.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		profiles, err = r.deps.Store.ListProfiles(ctx, req.Message.UserID)
		return err
	})
	if err != nil {
		return channel.Content{}, err
	}
	if len(profiles) == 0 {
		return channel.Text("You have no profiles yet. Create one with /profile."), nil
	}
	lines := []string{"Your profiles:"}
	for _, p := range profiles {
		mark := ""
		if p.IsDefault {
			mark = " (default)"
		}
		lines = append(lines, fmt.Sprintf("• %s → %s, %s%s", p.Name, p.Channel, p.Tone, mark))
	}
	return channel.Text(strings.Join(lines, "\n")), nil
}

func (r *Router) handlePublish(ctx context.Context, req *Request) (channel.Content, error) {
	text := strings.TrimSpace(req.Args)
	if text == "" {
		return channel.Content{}, userErr("Usage: /publish <text>")
	}
	profile, ok := r.defaultProfile(ctx, req.Message.UserID)
	if !ok {
		return channel.Content{}, userErr("Create a profile first with /profile.")
	}
	req.Meta["channel"] = profile.Channel
	if err := r.Publish(ctx, profile.Channel, channel.Text(text)); err != nil {
		return channel.Content{}, userErr("Could not post to %s. Make sure the bot is an admin there.", profile.Channel)
	}
	return channel.Text(fmt.Sprintf("✅ Posted to %s.", profile.Channel)), nil
}

func (r *Router) handleStatus(_ context.Context, req *Request) (channel.Content, error) {
	userID := req.Message.UserID
	lines := []string{"Your status:"}
	if r.deps.Limiter != nil {
		lines = append(lines,
			fmt.Sprintf("• commands left this minute: %d", r.deps.Limiter.Remaining(userID, ratelimit.ClassGeneral)),
			fmt.Sprintf("• AI requests left this minute: %d", r.deps.Limiter.Remaining(userID, ratelimit.ClassExpensive)),
		)
	}
	if r.deps.Wizards != nil {
		if st, ok := r.deps.Wizards.Active(userID); ok {
			lines = append(lines, fmt.Sprintf("• dialog: %s, step %d", st.Wizard, st.Step+1))
		} else {
			lines = append(lines, "• dialog: none")
		}
	}
	return channel.Text(strings.Join(lines, "\n")), nil
}

// reportHandler answers a cached, generated report about the request topic.
func (r *Router) reportHandler(kind content.Kind, title string) Handler {
	return func(ctx context.Context, req *Request) (channel.Content, error) {
		profile, ok := r.defaultProfile(ctx, req.Message.UserID)
		topic := r.topicFor(req, profile, ok)
		req.Meta["topic"] = topic
		text, err := r.generate(ctx, req, content.Request{Kind: kind, Topic: topic})
		if err != nil {
			return channel.Content{}, err
		}
		return channel.Text(title + "\n\n" + text), nil
	}
}

func (r *Router) userStats(ctx context.Context, userID string) (storage.UserStats, error) {
	var stats storage.UserStats
	err := bounded.Call(ctx, r.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		stats, err = r.deps.Store.UserStats(ctx, userID)
		return err
	})
	return stats, err
}

func (r *Router) handleAnalytics(ctx context.Context, req *Request) (channel.Content, error) {
	if r.deps.Store == nil {
		return channel.Content{}, userErr("Analytics are not available right now.")
	}
	userID := req.Message.UserID
	stats, err := r.userStats(ctx, userID)
	if err != nil {
		return channel.Content{}, err
	}
	lines := []string{"📊 Your activity:"}
	if profile, ok := r.defaultProfile(ctx, userID); ok {
		lines = append(lines, "• channel: "+profile.Channel)
	}
	lines = append(lines,
		fmt.Sprintf("• interactions: %d", stats.Interactions),
		fmt.Sprintf("• AI generations: %d", stats.Generations),
		fmt.Sprintf("• posts published: %d", stats.Posts),
		fmt.Sprintf("• videos delivered: %d", stats.Videos),
		fmt.Sprintf("• failed requests: %d", stats.Failures),
	)
	if !stats.LastActive.IsZero() {
		lines = append(lines, "• last active: "+stats.LastActive.UTC().Format("2006-01-02 15:04 UTC"))
	}
	lines = append(lines, "", "Post 2-3 times a day, keep an eye on /trends and plan ahead with /growth.")
	return channel.Text(strings.Join(lines, "\n")), nil
}

func (r *Router) handleSuggest(ctx context.Context, req *Request) (channel.Content, error) {
	interactions := 0
	if r.deps.Store != nil {
		stats, err := r.userStats(ctx, req.Message.UserID)
		if err != nil {
			logger.FromContext(ctx).Warn("load user stats failed", slog.Any("error", err))
		}
		interactions = stats.Interactions
	}
	hour := r.opts.Now().Hour()
	switch {
	case interactions < newcomerInteractions:
		return channel.Text("🌟 New here? Start with:\n1. /viral - write a viral post\n2. /growth - get a growth plan\n3. /autopilot - see the posting schedule"), nil
	case hour >= 9 && hour <= 11:
		return channel.Text("☀️ Morning is prime time:\n1. /viral - write a morning post\n2. /publish - post it\n3. /analytics - check your stats"), nil
	case hour >= 19 && hour <= 21:
		return channel.Text("🌙 Evening is peak time, most of your audience is online:\n1. /viral - write an evening post\n2. Add a poll to get replies"), nil
	default:
		return channel.Text("💡 A good time to prepare:\n1. /competitors - study competitors\n2. /trends - see what works now\n3. /growth - plan your growth"), nil
	}
}

func (r *Router) handleAutopilot(_ context.Context, _ *Request) (channel.Content, error) {
	schedule := r.currentSchedule()
	var posts []publisher.PostStatus
	if schedule != nil {
		posts = schedule.Posts()
	}
	if len(posts) == 0 {
		return channel.Text("🤖 Autopilot is off: no scheduled posts are configured."), nil
	}
	active := 0
	lines := []string{""}
	for _, p := range posts {
		state := "disabled"
		if p.Enabled {
			active++
			state = "waiting"
			if !p.NextRun.IsZero() {
				state = "next " + p.NextRun.UTC().Format("Jan 2 15:04 UTC")
			}
		}
		line := fmt.Sprintf("• %s → %s (%s): %s", p.Name, p.Target, p.Pattern, state)
		if p.LastError != "" {
			line += ", last run failed"
		}
		lines = append(lines, line)
	}
	lines[0] = fmt.Sprintf("🤖 Autopilot: %d of %d scheduled posts active", active, len(posts))
	return channel.Text(strings.Join(lines, "\n")), nil
}

func completedText(res wizard.Result) string {
	if res.Wizard == wizard.ProfileWizard {
		return fmt.Sprintf("✅ Profile %q saved for %s.", res.Draft["name"], res.Draft["channel"])
	}
	return "✅ Saved."
}
