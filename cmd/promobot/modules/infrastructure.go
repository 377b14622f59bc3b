package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"

	"github.com/memohai/promobot/internal/config"
	"github.com/memohai/promobot/internal/db"
	"github.com/memohai/promobot/internal/logger"
	"github.com/memohai/promobot/internal/storage"
	"github.com/memohai/promobot/internal/storage/memory"
	"github.com/memohai/promobot/internal/storage/postgres"
	"github.com/memohai/promobot/internal/storage/sqlite"
)

// ConfigPath is the config file chosen on the command line.
type ConfigPath string

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		provideLogger,
		provideStore,
	),
)

// ---------------------------------------------------------------------------
// infrastructure providers
// ---------------------------------------------------------------------------

func provideConfig(path ConfigPath) (config.Config, error) {
	cfgPath := strings.TrimSpace(string(path))
	if cfgPath == "" {
		cfgPath = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// provideStore opens the configured persistence backend.
func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (storage.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	log = log.With(slog.String("component", "storage"), slog.String("driver", driver))
	switch driver {
	case "", "memory":
		log.Warn("using in-memory storage; profiles are lost on restart")
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close()
			},
		})
		log.Info("storage ready", slog.String("path", cfg.SQLite.Path))
		return store, nil
	case "postgres":
		conn, err := db.Open(context.Background(), cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				conn.Close()
				return nil
			},
		})
		log.Info("storage ready", slog.String("host", cfg.Postgres.Host), slog.String("database", cfg.Postgres.Database))
		return postgres.New(conn), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q (use memory, sqlite or postgres)", cfg.Storage.Driver)
	}
}
