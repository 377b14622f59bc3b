package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, 5, cfg.RateLimit.ExpensiveLimit)
	assert.Equal(t, 20, cfg.RateLimit.GeneralLimit)
	assert.Equal(t, "1h", cfg.Cache.TTL)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 30.0, cfg.Telegram.SendRate)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[telegram]
bot_token = "from-file"
conflict_backoff = "7s"

[ratelimit]
expensive_limit = 3

[jobs.profiles.pipeline]
poll_interval = "30s"
max_wait = "20m"

[storage]
driver = "sqlite"

[[publisher.posts]]
name = "morning"
pattern = "0 9 * * *"
topic = "markets"
target = "@promo_channel"
max_calls = 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv(EnvTelegramToken, "from-env")
	t.Setenv(EnvPiAPIKey, "pi-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.BotToken)
	assert.Equal(t, "pi-key", cfg.PiAPI.APIKey)
	assert.Equal(t, "7s", cfg.Telegram.ConflictBackoff)
	assert.Equal(t, "3s", cfg.Telegram.Grace, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.RateLimit.ExpensiveLimit)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, JobProfile{PollInterval: "30s", MaxWait: "20m"}, cfg.Jobs.Profiles["pipeline"])
	require.Len(t, cfg.Publisher.Posts, 1)
	require.NotNil(t, cfg.Publisher.Posts[0].MaxCalls)
	assert.Equal(t, 2, *cfg.Publisher.Posts[0].MaxCalls)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[telegram\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	cfg, err := Load(filepath.Join("..", "..", "config.toml.example"))
	require.NoError(t, err)
	require.Len(t, cfg.Publisher.Posts, 3)
	assert.Equal(t, "0 9 * * *", cfg.Publisher.Posts[0].Pattern)
	assert.Equal(t, "0 15 * * *", cfg.Publisher.Posts[1].Pattern)
	assert.Equal(t, "0 20 * * *", cfg.Publisher.Posts[2].Pattern)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
}
