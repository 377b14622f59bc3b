package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/storage"
	"github.com/memohai/promobot/internal/storage/memory"
)

type mockOutbound struct {
	mu      sync.Mutex
	targets []string
	texts   []string
	err     error
}

func (m *mockOutbound) Publish(_ context.Context, target string, c channel.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.targets = append(m.targets, target)
	m.texts = append(m.texts, c.Text)
	return nil
}

func (m *mockOutbound) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

type mockGenerator struct {
	err error
}

func (g mockGenerator) Generate(_ context.Context, req content.Request) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "post about " + req.Topic, nil
}

func morning() Post {
	return Post{Name: "morning", Pattern: "0 9 * * *", Topic: "markets", Target: "@promo_channel"}
}

func TestTriggerPublishes(t *testing.T) {
	out := &mockOutbound{}
	store := memory.New()
	svc, err := NewService(nil, mockGenerator{}, out, store, []Post{morning()}, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.Trigger(context.Background(), "morning"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if out.count() != 1 || out.targets[0] != "@promo_channel" || out.texts[0] != "post about markets" {
		t.Fatalf("unexpected publish: %+v %+v", out.targets, out.texts)
	}
	acts := store.Activities()
	if len(acts) != 1 || acts[0].Action != "scheduled_post" || acts[0].Outcome != storage.OutcomeSuccess || acts[0].UserID != ActivityUser {
		t.Fatalf("unexpected activity: %+v", acts)
	}
	posts := svc.Posts()
	if len(posts) != 1 || posts[0].CurrentCalls != 1 || posts[0].LastRun.IsZero() {
		t.Fatalf("unexpected posts: %+v", posts)
	}
}

func TestTriggerUnknownPost(t *testing.T) {
	svc, err := NewService(nil, mockGenerator{}, &mockOutbound{}, nil, nil, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Trigger(context.Background(), "nope"); !errors.Is(err, ErrUnknownPost) {
		t.Fatalf("expected ErrUnknownPost, got %v", err)
	}
}

func TestNewServiceValidatesPosts(t *testing.T) {
	bad := morning()
	bad.Pattern = "every morning"
	if _, err := NewService(nil, mockGenerator{}, &mockOutbound{}, nil, []Post{bad}, 0); err == nil {
		t.Fatal("expected invalid pattern error")
	}
	missing := morning()
	missing.Target = ""
	if _, err := NewService(nil, mockGenerator{}, &mockOutbound{}, nil, []Post{missing}, 0); err == nil {
		t.Fatal("expected missing target error")
	}
	if _, err := NewService(nil, mockGenerator{}, &mockOutbound{}, nil, []Post{morning(), morning()}, 0); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestMaxCallsDisablesPost(t *testing.T) {
	one := 1
	post := morning()
	post.MaxCalls = &one
	svc, err := NewService(nil, mockGenerator{}, &mockOutbound{}, nil, []Post{post}, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Trigger(context.Background(), "morning"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := svc.Trigger(context.Background(), "morning"); err == nil {
		t.Fatal("expected disabled error")
	}
	if posts := svc.Posts(); posts[0].Enabled {
		t.Fatalf("post should be disabled: %+v", posts[0])
	}
}

func TestFailuresAreRecorded(t *testing.T) {
	store := memory.New()
	svc, err := NewService(nil, mockGenerator{err: errors.New("llm down")}, &mockOutbound{}, store, []Post{morning()}, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Trigger(context.Background(), "morning"); err == nil {
		t.Fatal("expected error")
	}
	acts := store.Activities()
	if len(acts) != 1 || acts[0].Outcome != storage.OutcomeError {
		t.Fatalf("unexpected activity: %+v", acts)
	}
	if posts := svc.Posts(); posts[0].LastError == "" {
		t.Fatal("last error not kept")
	}
}

func TestCronFiresPosts(t *testing.T) {
	out := &mockOutbound{}
	post := morning()
	post.Pattern = "* * * * * *"
	svc, err := NewService(nil, mockGenerator{}, out, nil, []Post{post}, time.Second)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	}()

	if posts := svc.Posts(); posts[0].NextRun.IsZero() {
		t.Fatal("next run not scheduled")
	}
	deadline := time.Now().Add(3 * time.Second)
	for out.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("post never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
