// Package publisher fires scheduled channel posts on cron patterns and
// hands the generated content to the router's publish primitive.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/storage"
)

// ErrUnknownPost is returned by Trigger for names that are not configured.
var ErrUnknownPost = errors.New("publisher: unknown post")

// ActivityUser is the user id recorded on scheduled activity.
const ActivityUser = "scheduler"

const DefaultRunTimeout = 2 * time.Minute

type state struct {
	post    Post
	entry   cron.EntryID
	enabled bool
	calls   int
	lastRun time.Time
	lastErr string
}

type Service struct {
	cron       *cron.Cron
	parser     cron.Parser
	generator  content.Generator
	out        Outbound
	store      storage.Store
	runTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu    sync.Mutex
	posts map[string]*state
}

// NewService validates posts and schedules them. Nothing fires before Start.
func NewService(log *slog.Logger, generator content.Generator, out Outbound, store storage.Store, posts []Post, runTimeout time.Duration) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Service{
		cron:       cron.New(cron.WithParser(parser)),
		parser:     parser,
		generator:  generator,
		out:        out,
		store:      store,
		runTimeout: runTimeout,
		now:        time.Now,
		logger:     log.With(slog.String("service", "publisher")),
		posts:      map[string]*state{},
	}
	for _, post := range posts {
		if err := s.add(post); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) add(post Post) error {
	post.Name = strings.TrimSpace(post.Name)
	if post.Name == "" || strings.TrimSpace(post.Pattern) == "" || strings.TrimSpace(post.Topic) == "" || strings.TrimSpace(post.Target) == "" {
		return fmt.Errorf("name, pattern, topic, target are required")
	}
	if _, err := s.parser.Parse(post.Pattern); err != nil {
		return fmt.Errorf("post %s: invalid cron pattern: %w", post.Name, err)
	}
	if _, dup := s.posts[post.Name]; dup {
		return fmt.Errorf("post %s configured twice", post.Name)
	}
	name := post.Name
	entry, err := s.cron.AddFunc(post.Pattern, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		if err := s.run(ctx, name); err != nil {
			s.logger.Error("scheduled post failed", slog.String("post", name), slog.Any("error", err))
		}
	})
	if err != nil {
		return err
	}
	s.posts[name] = &state{post: post, entry: entry, enabled: true}
	return nil
}

// Start begins firing posts.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("publisher started", slog.Int("posts", len(s.posts)))
}

// Stop stops the scheduler and waits for running posts until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a post now, outside its schedule.
func (s *Service) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.posts[name]
	enabled := ok && st.enabled
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPost, name)
	}
	if !enabled {
		return fmt.Errorf("post %s is disabled", name)
	}
	return s.run(ctx, name)
}

// Posts lists the configured posts by name.
func (s *Service) Posts() []PostStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]PostStatus, 0, len(s.posts))
	for _, st := range s.posts {
		item := PostStatus{
			Post:         st.post,
			Enabled:      st.enabled,
			CurrentCalls: st.calls,
			LastRun:      st.lastRun,
			LastError:    st.lastErr,
		}
		if st.enabled {
			item.NextRun = s.cron.Entry(st.entry).Next
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (s *Service) run(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.posts[name]
	if !ok || !st.enabled {
		s.mu.Unlock()
		return nil
	}
	st.calls++
	st.lastRun = s.now()
	post := st.post
	if post.MaxCalls != nil && st.calls >= *post.MaxCalls {
		st.enabled = false
		s.cron.Remove(st.entry)
	}
	s.mu.Unlock()

	err := s.publish(ctx, post)

	s.mu.Lock()
	if err != nil {
		st.lastErr = err.Error()
	} else {
		st.lastErr = ""
	}
	s.mu.Unlock()

	rec := storage.ActivityRecord{
		UserID:      ActivityUser,
		Action:      "scheduled_post",
		Description: post.Name,
		Outcome:     storage.OutcomeSuccess,
		Metadata:    map[string]any{"target": post.Target, "topic": post.Topic},
	}
	if err != nil {
		rec.Outcome = storage.OutcomeError
		rec.Metadata["error"] = err.Error()
	}
	if s.store != nil {
		if aerr := s.store.AppendActivity(ctx, rec); aerr != nil {
			s.logger.Warn("append activity failed", slog.Any("error", aerr))
		}
	}
	return err
}

func (s *Service) publish(ctx context.Context, post Post) error {
	var text string
	err := bounded.Call(ctx, 0, func(ctx context.Context) error {
		var err error
		text, err = s.generator.Generate(ctx, content.Request{Kind: content.KindPost, Topic: post.Topic, Tone: post.Tone})
		return err
	})
	if err != nil {
		return fmt.Errorf("generate post %s: %w", post.Name, err)
	}
	if err := s.out.Publish(ctx, post.Target, channel.Text(text)); err != nil {
		return fmt.Errorf("publish post %s: %w", post.Name, err)
	}
	s.logger.Info("scheduled post published", slog.String("post", post.Name), slog.String("target", post.Target))
	return nil
}
