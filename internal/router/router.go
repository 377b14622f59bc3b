// Package router dispatches inbound messages to command handlers and owns
// the outbound send path.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/cache"
	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/jobs"
	"github.com/memohai/promobot/internal/logger"
	"github.com/memohai/promobot/internal/publisher"
	"github.com/memohai/promobot/internal/ratelimit"
	"github.com/memohai/promobot/internal/storage"
	"github.com/memohai/promobot/internal/wizard"
)

const (
	DefaultSendTimeout     = 10 * time.Second
	DefaultGenerateTimeout = 60 * time.Second
	DefaultStoreTimeout    = 5 * time.Second
	DefaultTopic           = "social media growth"
)

// Request is one parsed inbound message.
type Request struct {
	Message channel.Message
	// Command is the lowercase token without the slash; empty for plain text.
	Command string
	Args    string
	// Meta is stored with the activity record of this request.
	Meta map[string]any
}

// Handler answers a request. An empty reply sends nothing.
type Handler func(ctx context.Context, req *Request) (channel.Content, error)

// UserError is shown to the user verbatim.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

func userErr(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

type command struct {
	name    string
	class   ratelimit.Class
	usage   string
	handler Handler
}

// Deps are the collaborators of a Router.
type Deps struct {
	Sender    channel.Sender
	Limiter   *ratelimit.Limiter
	Cache     *cache.Cache
	Wizards   *wizard.Store
	Tracker   *jobs.Tracker
	Generator content.Generator
	Store     storage.Store
}

// Options configures a Router.
type Options struct {
	SendTimeout     time.Duration
	GenerateTimeout time.Duration
	StoreTimeout    time.Duration
	// VideoWait overrides the tracker's video profile when set.
	VideoWait    jobs.WaitOptions
	DefaultTopic string
	Now          func() time.Time
}

// Schedule reports the scheduled posts shown by /autopilot.
type Schedule interface {
	Posts() []publisher.PostStatus
}

// Router is safe for concurrent Dispatch calls.
type Router struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	commands map[string]*command
	order    []string
	schedule Schedule

	// lifetime bounds background work that outlives a single message.
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	bgMu     sync.Mutex
	closing  bool
}

// New creates a Router with the built-in commands registered.
func New(log *slog.Logger, deps Deps, opts Options) *Router {
	if log == nil {
		log = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = DefaultGenerateTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if strings.TrimSpace(opts.DefaultTopic) == "" {
		opts.DefaultTopic = DefaultTopic
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lifetime, cancel := context.WithCancel(context.Background())
	r := &Router{
		deps:     deps,
		opts:     opts,
		logger:   log.With(slog.String("component", "router")),
		commands: map[string]*command{},
		lifetime: lifetime,
		cancel:   cancel,
	}
	r.registerBuiltins()
	return r
}

// Register binds a handler to /name. Registering a name again replaces it.
func (r *Router) Register(name string, class ratelimit.Class, usage string, h Handler) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = &command{name: name, class: class, usage: usage, handler: h}
}

// AttachSchedule makes the scheduled posts visible to /autopilot. The
// publisher is built after the router, so it is attached late.
func (r *Router) AttachSchedule(s Schedule) {
	r.mu.Lock()
	r.schedule = s
	r.mu.Unlock()
}

func (r *Router) currentSchedule() Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schedule
}

func (r *Router) lookup(name string) (*command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// parse splits "/cmd@bot args" into its lowercase token and arguments.
func parse(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	token, args, _ := strings.Cut(text, " ")
	token = strings.TrimPrefix(token, "/")
	if at := strings.Index(token, "@"); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(token), strings.TrimSpace(args)
}

// Dispatch handles one inbound message: rate limit by command class, route
// plain text to an active wizard, run the command handler, and fall back to
// help for unknown commands. Failures are answered in chat; the returned
// error only reports a reply that could not be delivered.
func (r *Router) Dispatch(ctx context.Context, msg channel.Message) error {
	token, args := parse(msg.Text)
	req := &Request{Message: msg, Command: token, Args: args, Meta: map[string]any{}}

	ctx, log := logger.ForUser(logger.WithContext(ctx, r.logger), msg.UserID, token)
	cmd, known := r.lookup(token)
	wizardInput := token == "" && r.deps.Wizards != nil && r.deps.Wizards.HasActive(msg.UserID)

	class := ratelimit.ClassGeneral
	switch {
	case known:
		class = cmd.class
	case token == "" && !wizardInput:
		class = ratelimit.ClassExpensive
	}
	if r.deps.Limiter != nil && !r.deps.Limiter.Allow(msg.UserID, class) {
		log.Info("rate limited", slog.String("class", string(class)))
		return r.Reply(ctx, msg, channel.Text(rateLimitedText))
	}

	switch {
	case wizardInput:
		return r.advanceWizard(ctx, req)
	case token == "":
		cmd, known = r.lookup("ask")
		req.Command = "ask"
		req.Args = strings.TrimSpace(msg.Text)
	case !known:
		log.Debug("unknown command")
		return r.Reply(ctx, msg, channel.Text(r.helpText(fmt.Sprintf("Unknown command /%s.", token))))
	}
	if !known {
		return r.Reply(ctx, msg, channel.Text(r.helpText("")))
	}

	reply, err := cmd.handler(ctx, req)
	r.recordCommand(ctx, req, err)
	if err != nil {
		reply = channel.Text(r.userMessage(ctx, req, err))
	}
	if reply.IsEmpty() {
		return nil
	}
	return r.Reply(ctx, msg, reply)
}

func (r *Router) advanceWizard(ctx context.Context, req *Request) error {
	res, err := r.deps.Wizards.Advance(ctx, req.Message.UserID, req.Args)
	if errors.Is(err, wizard.ErrNoActive) {
		// Expired between the check and the reply; answer as plain text would.
		return r.Reply(ctx, req.Message, channel.Text(r.helpText("")))
	}
	if err != nil {
		return err
	}
	switch res.Kind {
	case wizard.KindInvalid:
		return r.Reply(ctx, req.Message, channel.Text(fmt.Sprintf("❌ %s\n%s", strings.TrimPrefix(res.Err.Error(), wizard.ErrInvalidInput.Error()+": "), res.Prompt)))
	case wizard.KindCompleted:
		rec := storage.ActivityRecord{
			UserID:      req.Message.UserID,
			Action:      "wizard_" + res.Wizard,
			Description: "wizard completed",
			Outcome:     storage.OutcomeSuccess,
			Metadata:    map[string]any{"fields": len(res.Draft)},
		}
		text := completedText(res)
		if res.Err != nil {
			rec.Outcome = storage.OutcomeError
			rec.Description = res.Err.Error()
			text = "⚠️ Could not save your answers. Please start again later."
		}
		r.appendActivity(ctx, rec)
		return r.Reply(ctx, req.Message, channel.Text(text))
	default:
		return r.Reply(ctx, req.Message, channel.Text(res.Prompt))
	}
}

// Reply answers in the chat the message came from.
func (r *Router) Reply(ctx context.Context, msg channel.Message, c channel.Content) error {
	target := msg.ChatID
	if target == "" {
		target = msg.UserID
	}
	return r.send(ctx, target, c)
}

// Publish is the outbound primitive used by scheduled posts and the HTTP API.
func (r *Router) Publish(ctx context.Context, target string, c channel.Content) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("publish target is required")
	}
	if c.IsEmpty() {
		return fmt.Errorf("publish content is empty")
	}
	if err := r.send(ctx, target, c); err != nil {
		return err
	}
	r.logger.Info("published", slog.String("target", target))
	return nil
}

// send bounds every outbound call by SendTimeout even when the sender
// ignores its context.
func (r *Router) send(ctx context.Context, target string, c channel.Content) error {
	err := bounded.Call(ctx, r.opts.SendTimeout, func(ctx context.Context) error {
		return r.deps.Sender.Send(ctx, target, c)
	})
	if err != nil {
		r.logger.Warn("send failed", slog.String("target", target), slog.Any("error", err))
		return fmt.Errorf("send to %s: %w", target, err)
	}
	return nil
}

func (r *Router) userMessage(ctx context.Context, req *Request, err error) string {
	var uerr *UserError
	switch {
	case errors.As(err, &uerr):
		return uerr.Msg
	case errors.Is(err, jobs.ErrTimeout):
		return timeoutText
	case errors.Is(err, jobs.ErrProvider), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("⚠️ Generation failed. Please try /%s again in a minute.", req.Command)
	default:
		logger.FromContext(ctx).Error("command failed", slog.String("command", req.Command), slog.Any("error", err))
		return "Something went wrong. Please try again."
	}
}

func (r *Router) recordCommand(ctx context.Context, req *Request, err error) {
	rec := storage.ActivityRecord{
		UserID:      req.Message.UserID,
		Action:      req.Command,
		Description: truncate(req.Args, 200),
		Outcome:     storage.OutcomeSuccess,
		Metadata:    req.Meta,
	}
	var uerr *UserError
	switch {
	case err == nil:
	case errors.As(err, &uerr):
		rec.Outcome = storage.OutcomeWarning
	default:
		rec.Outcome = storage.OutcomeError
		rec.Metadata["error"] = err.Error()
	}
	r.appendActivity(ctx, rec)
}

func (r *Router) appendActivity(ctx context.Context, rec storage.ActivityRecord) {
	if r.deps.Store == nil {
		return
	}
	err := bounded.Call(ctx, r.opts.StoreTimeout, func(ctx context.Context) error {
		return r.deps.Store.AppendActivity(ctx, rec)
	})
	if err != nil {
		r.logger.Warn("append activity failed", slog.String("action", rec.Action), slog.Any("error", err))
	}
}

// track reserves a slot for background work. It fails once Close has begun.
func (r *Router) track() bool {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	if r.closing {
		return false
	}
	r.wg.Add(1)
	return true
}

// Close cancels background work started by handlers and waits for it.
func (r *Router) Close(ctx context.Context) error {
	r.bgMu.Lock()
	r.closing = true
	r.bgMu.Unlock()
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
