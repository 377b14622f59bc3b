package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/memohai/promobot/internal/cache"
	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/channel/telegram"
	"github.com/memohai/promobot/internal/config"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/jobs"
	"github.com/memohai/promobot/internal/ratelimit"
	"github.com/memohai/promobot/internal/router"
	"github.com/memohai/promobot/internal/storage"
	"github.com/memohai/promobot/internal/supervisor"
	"github.com/memohai/promobot/internal/wizard"
)

var BotModule = fx.Module(
	"bot",
	fx.Provide(
		provideTelegram,
		provideRouter,
		provideSupervisor,
	),
	fx.Invoke(startBot),
)

// ---------------------------------------------------------------------------
// messaging platform, command router and instance supervisor
// ---------------------------------------------------------------------------

func provideTelegram(log *slog.Logger, cfg config.Config) (*telegram.Client, error) {
	return telegram.NewClient(log, telegram.Config{
		BotToken:    cfg.Telegram.BotToken,
		Endpoint:    cfg.Telegram.Endpoint,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 0),
		RetryDelay:  config.Duration(cfg.Telegram.RetryDelay, 0),
		SendRate:    cfg.Telegram.SendRate,
	})
}

type routerParams struct {
	fx.In

	Logger    *slog.Logger
	Config    config.Config
	Client    *telegram.Client
	Limiter   *ratelimit.Limiter
	Cache     *cache.Cache
	Wizards   *wizard.Store
	Tracker   *jobs.Tracker
	Generator content.Generator
	Store     storage.Store
}

func provideRouter(params routerParams) *router.Router {
	cfg := params.Config.Router
	return router.New(params.Logger, router.Deps{
		Sender:    params.Client,
		Limiter:   params.Limiter,
		Cache:     params.Cache,
		Wizards:   params.Wizards,
		Tracker:   params.Tracker,
		Generator: params.Generator,
		Store:     params.Store,
	}, router.Options{
		SendTimeout:     config.Duration(cfg.SendTimeout, 0),
		GenerateTimeout: config.Duration(cfg.GenerateTimeout, 0),
		StoreTimeout:    config.Duration(cfg.StoreTimeout, 0),
		DefaultTopic:    cfg.DefaultTopic,
	})
}

func provideSupervisor(log *slog.Logger, cfg config.Config, client *telegram.Client, r *router.Router) *supervisor.Supervisor {
	var handler channel.InboundHandler = r.Dispatch
	return supervisor.New(log, client, handler, supervisor.Options{
		Grace:           config.Duration(cfg.Telegram.Grace, 0),
		ConflictBackoff: config.Duration(cfg.Telegram.ConflictBackoff, 0),
		CallTimeout:     config.Duration(cfg.Telegram.CallTimeout, 0),
	})
}

// startBot runs the supervisor loop for the lifetime of the app. A fatal
// supervisor error shuts the whole app down.
func startBot(lc fx.Lifecycle, log *slog.Logger, sup *supervisor.Supervisor, r *router.Router, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("bot stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			sup.Start()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			var errs []error
			if err := sup.Stop(stopCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop bot: %w", err))
			}
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				errs = append(errs, stopCtx.Err())
			}
			if err := r.Close(stopCtx); err != nil {
				errs = append(errs, fmt.Errorf("close router: %w", err))
			}
			return errors.Join(errs...)
		},
	})
}
