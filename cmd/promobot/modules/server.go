package modules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/fx"

	"github.com/memohai/promobot/internal/config"
	"github.com/memohai/promobot/internal/handlers"
	"github.com/memohai/promobot/internal/jobs"
	"github.com/memohai/promobot/internal/publisher"
	"github.com/memohai/promobot/internal/router"
	"github.com/memohai/promobot/internal/server"
	"github.com/memohai/promobot/internal/supervisor"
	"github.com/memohai/promobot/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideServerHandler(handlers.NewPingHandler),
		provideServerHandler(provideStatusHandler),
		provideServerHandler(providePublishHandler),
		provideServer,
	),
	fx.Invoke(startServer),
)

// ---------------------------------------------------------------------------
// server
// ---------------------------------------------------------------------------

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideStatusHandler(log *slog.Logger, sup *supervisor.Supervisor, tracker *jobs.Tracker) *handlers.StatusHandler {
	if tracker == nil {
		return handlers.NewStatusHandler(log, sup, nil)
	}
	return handlers.NewStatusHandler(log, sup, tracker)
}

func providePublishHandler(log *slog.Logger, r *router.Router, svc *publisher.Service) *handlers.PublishHandler {
	if svc == nil {
		return handlers.NewPublishHandler(log, r, nil)
	}
	return handlers.NewPublishHandler(log, r, svc)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

// provideServer returns nil when server.addr is empty.
func provideServer(params serverParams) (*server.Server, error) {
	addr := strings.TrimSpace(params.Config.Server.Addr)
	if addr == "" {
		params.Logger.Info("http api disabled")
		return nil, nil
	}
	if strings.TrimSpace(params.Config.Auth.JWTSecret) == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required when server.addr is set")
	}
	return server.NewServer(params.Logger, addr, params.Config.Auth.JWTSecret, params.ServerHandlers...), nil
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	logger.Info("starting promobot", slog.String("version", version.GetInfo()))
	if srv == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown() // shutdown the application if the server fails to start
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
