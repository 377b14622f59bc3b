package modules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/fx"

	"github.com/memohai/promobot/internal/cache"
	"github.com/memohai/promobot/internal/config"
	"github.com/memohai/promobot/internal/content"
	"github.com/memohai/promobot/internal/jobs"
	"github.com/memohai/promobot/internal/jobs/piapi"
	"github.com/memohai/promobot/internal/periodic"
	"github.com/memohai/promobot/internal/ratelimit"
	"github.com/memohai/promobot/internal/storage"
	"github.com/memohai/promobot/internal/wizard"
)

var CoreModule = fx.Module(
	"core",
	fx.Provide(
		provideLimiter,
		provideCache,
		provideWizards,
		provideGenerator,
		provideTracker,
	),
	fx.Invoke(startSweepers),
)

// ---------------------------------------------------------------------------
// in-memory state and collaborators
// ---------------------------------------------------------------------------

func limiterOptions(cfg config.RateLimitConfig) ratelimit.Options {
	window := config.Duration(cfg.Window, ratelimit.DefaultRules[ratelimit.ClassGeneral].Window)
	rules := map[ratelimit.Class]ratelimit.Rule{}
	if cfg.GeneralLimit > 0 {
		rules[ratelimit.ClassGeneral] = ratelimit.Rule{Limit: cfg.GeneralLimit, Window: window}
	}
	if cfg.ExpensiveLimit > 0 {
		rules[ratelimit.ClassExpensive] = ratelimit.Rule{Limit: cfg.ExpensiveLimit, Window: window}
	}
	return ratelimit.Options{
		Rules:         rules,
		SweepInterval: config.Duration(cfg.SweepInterval, 0),
	}
}

func provideLimiter(log *slog.Logger, cfg config.Config) *ratelimit.Limiter {
	return ratelimit.New(log, limiterOptions(cfg.RateLimit))
}

func provideCache(log *slog.Logger, cfg config.Config) *cache.Cache {
	return cache.New(log, cache.Options{
		TTL:           config.Duration(cfg.Cache.TTL, 0),
		SweepInterval: config.Duration(cfg.Cache.SweepInterval, 0),
	})
}

func provideWizards(log *slog.Logger, cfg config.Config, store storage.Store) (*wizard.Store, error) {
	return wizard.New(log, wizard.Options{
		IdleTTL:       config.Duration(cfg.Wizard.IdleTTL, 0),
		SweepInterval: config.Duration(cfg.Wizard.SweepInterval, 0),
		// Profile saves share the router's storage budget.
		PersistTimeout: config.Duration(cfg.Router.StoreTimeout, 0),
	}, wizard.ProfileDefinition(store))
}

// provideGenerator uses the LLM endpoint when a key is configured and the
// offline templates otherwise.
func provideGenerator(log *slog.Logger, cfg config.Config) (content.Generator, error) {
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		log.Warn("llm api key not set; using offline templates")
		return content.Templates{}, nil
	}
	client, err := content.NewLLMClient(log, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, config.Duration(cfg.LLM.Timeout, 0))
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	return client, nil
}

func trackerOptions(cfg config.JobsConfig) jobs.Options {
	profiles := map[string]jobs.WaitOptions{}
	for kind, p := range cfg.Profiles {
		profiles[strings.ToLower(kind)] = jobs.WaitOptions{
			PollInterval: config.Duration(p.PollInterval, 0),
			MaxWait:      config.Duration(p.MaxWait, 0),
		}
	}
	if _, ok := profiles["video"]; !ok {
		profiles["video"] = jobs.WaitOptions{
			PollInterval: config.Duration(cfg.PollInterval, jobs.DefaultWait.PollInterval),
			MaxWait:      config.Duration(cfg.MaxWait, jobs.DefaultWait.MaxWait),
		}
	}
	return jobs.Options{
		CallTimeout:     config.Duration(cfg.CallTimeout, 0),
		MaxStatusErrors: cfg.MaxStatusErrors,
		Profiles:        profiles,
	}
}

// provideTracker returns nil when no video provider is configured; /video
// then answers that generation is unavailable.
func provideTracker(log *slog.Logger, cfg config.Config) (*jobs.Tracker, error) {
	if strings.TrimSpace(cfg.PiAPI.APIKey) == "" {
		log.Warn("piapi api key not set; video generation disabled")
		return nil, nil
	}
	client, err := piapi.NewClient(log, piapi.Config{
		BaseURL: cfg.PiAPI.BaseURL,
		APIKey:  cfg.PiAPI.APIKey,
		Model:   cfg.PiAPI.Model,
		Timeout: config.Duration(cfg.PiAPI.Timeout, 0),
	})
	if err != nil {
		return nil, err
	}
	return jobs.NewTracker(log, client, trackerOptions(cfg.Jobs)), nil
}

func startSweepers(lc fx.Lifecycle, limiter *ratelimit.Limiter, responses *cache.Cache, wizards *wizard.Store) {
	var (
		cancel  context.CancelFunc
		handles []*periodic.Handle
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			handles = append(handles, limiter.Start(ctx), responses.Start(ctx), wizards.Start(ctx))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			for _, h := range handles {
				select {
				case <-h.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		},
	})
}
