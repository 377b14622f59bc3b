// Package ratelimit implements per-user sliding-window rate limiting with
// independent windows per action class.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/promobot/internal/periodic"
	"github.com/memohai/promobot/internal/shard"
)

// Class groups actions that share a window. Expensive actions call paid
// backends and get a smaller allowance than general commands.
type Class string

const (
	ClassGeneral   Class = "general"
	ClassExpensive Class = "expensive"
)

// Rule is the allowance of one class: at most Limit permitted actions within
// any trailing Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Options configures a Limiter.
type Options struct {
	Rules         map[Class]Rule
	SweepInterval time.Duration
	Now           func() time.Time
}

// DefaultRules are used for classes missing from Options.Rules.
var DefaultRules = map[Class]Rule{
	ClassGeneral:   {Limit: 20, Window: time.Minute},
	ClassExpensive: {Limit: 5, Window: time.Minute},
}

// window holds the timestamps of permitted actions, oldest first.
type window struct {
	events []time.Time
	rule   Rule
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.rule.Window)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// Limiter decides whether a user may perform an action now.
type Limiter struct {
	rules         map[Class]Rule
	windows       *shard.Map[*window]
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a Limiter.
func New(log *slog.Logger, opts Options) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	rules := map[Class]Rule{}
	for class, rule := range DefaultRules {
		rules[class] = rule
	}
	for class, rule := range opts.Rules {
		if rule.Limit > 0 && rule.Window > 0 {
			rules[class] = rule
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = 5 * time.Minute
	}
	return &Limiter{
		rules:         rules,
		windows:       shard.New[*window](shard.DefaultCount),
		sweepInterval: sweep,
		now:           now,
		logger:        log.With(slog.String("component", "ratelimit")),
	}
}

func windowKey(userID string, class Class) string {
	return string(class) + "|" + userID
}

// Allow reports whether userID may perform an action of class now. Only
// permitted actions are recorded; a denied call leaves the window unchanged.
func (l *Limiter) Allow(userID string, class Class) bool {
	rule, ok := l.rules[class]
	if !ok {
		rule = l.rules[ClassGeneral]
	}
	now := l.now()
	key := windowKey(userID, class)
	allowed := false
	l.windows.Do(key, func(items map[string]*window) {
		w := items[key]
		if w == nil {
			w = &window{rule: rule}
			items[key] = w
		}
		w.prune(now)
		if len(w.events) < w.rule.Limit {
			w.events = append(w.events, now)
			allowed = true
		}
	})
	if !allowed {
		l.logger.Debug("rate limited", slog.String("user_id", userID), slog.String("class", string(class)))
	}
	return allowed
}

// Remaining returns how many more actions of class userID may perform now.
func (l *Limiter) Remaining(userID string, class Class) int {
	rule, ok := l.rules[class]
	if !ok {
		rule = l.rules[ClassGeneral]
	}
	now := l.now()
	key := windowKey(userID, class)
	remaining := rule.Limit
	l.windows.Do(key, func(items map[string]*window) {
		if w := items[key]; w != nil {
			w.prune(now)
			remaining = w.rule.Limit - len(w.events)
		}
	})
	return remaining
}

// Sweep prunes every window and drops the ones left empty.
func (l *Limiter) Sweep() int {
	now := l.now()
	return l.windows.Prune(func(_ string, w *window) bool {
		w.prune(now)
		return len(w.events) == 0
	})
}

// Size returns the number of tracked windows.
func (l *Limiter) Size() int {
	return l.windows.Len()
}

// Start runs Sweep periodically until ctx is done or the handle is stopped.
func (l *Limiter) Start(ctx context.Context) *periodic.Handle {
	return periodic.Every(ctx, l.sweepInterval, func(context.Context) {
		if removed := l.Sweep(); removed > 0 {
			l.logger.Debug("swept windows", slog.Int("removed", removed))
		}
	})
}
