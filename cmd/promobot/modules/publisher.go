package modules

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/memohai/promobot/internal/config"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/publisher"
	"github.com/memohai/promobot/internal/router"
	"github.com/memohai/promobot/internal/storage"
)

var PublisherModule = fx.Module(
	"publisher",
	fx.Provide(providePublisher),
	fx.Invoke(startPublisher),
)

func postsFromConfig(items []config.PostConfig) []publisher.Post {
	posts := make([]publisher.Post, 0, len(items))
	for _, item := range items {
		posts = append(posts, publisher.Post{
			Name:     item.Name,
			Pattern:  item.Pattern,
			Topic:    item.Topic,
			Tone:     item.Tone,
			Target:   item.Target,
			MaxCalls: item.MaxCalls,
		})
	}
	return posts
}

// providePublisher returns nil when the publisher is disabled or has no posts.
func providePublisher(log *slog.Logger, cfg config.Config, generator content.Generator, r *router.Router, store storage.Store) (*publisher.Service, error) {
	if !cfg.Publisher.Enabled || len(cfg.Publisher.Posts) == 0 {
		return nil, nil
	}
	return publisher.NewService(log, generator, r, store, postsFromConfig(cfg.Publisher.Posts), config.Duration(cfg.Publisher.RunTimeout, 0))
}

// startPublisher also exposes the schedule to the router for /autopilot.
func startPublisher(lc fx.Lifecycle, svc *publisher.Service, r *router.Router) {
	if svc == nil {
		return
	}
	r.AttachSchedule(svc)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			svc.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop(ctx)
		},
	})
}
