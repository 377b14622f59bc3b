package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/promobot/cmd/promobot/modules"
	"github.com/memohai/promobot/db"
	"github.com/memohai/promobot/internal/auth"
	"github.com/memohai/promobot/internal/config"
	internaldb "github.com/memohai/promobot/internal/db"
	"github.com/memohai/promobot/internal/logger"
	"github.com/memohai/promobot/internal/version"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "promobot",
		Short:        "Telegram promotion bot with scheduled posts and video jobs",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "Config file path (defaults to $CONFIG_PATH or config.toml).")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	return path
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the scheduler and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := modules.App(modules.ConfigPath(configPath(cmd)))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|down|version|force N>",
		Short: "Apply PostgreSQL schema migrations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if driver := strings.ToLower(cfg.Storage.Driver); driver != "postgres" {
				logger.Info("migrations only apply to postgres; nothing to do", slog.String("driver", driver))
				return nil
			}
			return internaldb.RunMigrate(logger.L, cfg.Postgres, db.MigrationsFS, args[0], args[1:])
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		user string
		ttl  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			expiresIn := config.Duration(ttl, config.Duration(cfg.Auth.JWTExpiresIn, 24*time.Hour))
			token, expiresAt, err := auth.GenerateToken(user, cfg.Auth.JWTSecret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "operator", "Subject of the token.")
	cmd.Flags().StringVar(&ttl, "ttl", "", "Token lifetime (defaults to auth.jwt_expires_in).")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "promobot %s\n", version.GetInfo())
		},
	}
}
