// Package modules assembles the fx application for the serve command.
package modules

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// App builds the serve application from the module set.
func App(path ConfigPath) *fx.App {
	return fx.New(
		fx.Supply(path),
		InfraModule,
		CoreModule,
		BotModule,
		PublisherModule,
		ServerModule,
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	)
}
