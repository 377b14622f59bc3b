// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultStorage      = "memory"
	DefaultSQLitePath   = "data/promobot.db"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "promobot"
	DefaultPGSSLMode    = "disable"
	DefaultLLMBaseURL   = "https://api.openai.com/v1"
	DefaultLLMModel     = "gpt-4o-mini"
	DefaultPiAPIBaseURL = "https://api.piapi.ai"
)

// Secrets that may be supplied through the environment instead of the file.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvPiAPIKey      = "PIAPI_API_KEY"
	EnvLLMKey        = "LLM_API_KEY"
	EnvJWTSecret     = "JWT_SECRET"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Telegram  TelegramConfig  `toml:"telegram"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Cache     CacheConfig     `toml:"cache"`
	Wizard    WizardConfig    `toml:"wizard"`
	Jobs      JobsConfig      `toml:"jobs"`
	Router    RouterConfig    `toml:"router"`
	PiAPI     PiAPIConfig     `toml:"piapi"`
	LLM       LLMConfig       `toml:"llm"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Publisher PublisherConfig `toml:"publisher"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address. An empty address
// disables the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// TelegramConfig configures the Bot API client and the instance supervisor.
type TelegramConfig struct {
	BotToken        string  `toml:"bot_token"`
	Endpoint        string  `toml:"endpoint"`
	PollTimeout     string  `toml:"poll_timeout"`
	RetryDelay      string  `toml:"retry_delay"`
	SendRate        float64 `toml:"send_rate"`
	Grace           string  `toml:"grace"`
	ConflictBackoff string  `toml:"conflict_backoff"`
	CallTimeout     string  `toml:"call_timeout"`
}

// RateLimitConfig holds per-class allowances within one window.
type RateLimitConfig struct {
	GeneralLimit   int    `toml:"general_limit"`
	ExpensiveLimit int    `toml:"expensive_limit"`
	Window         string `toml:"window"`
	SweepInterval  string `toml:"sweep_interval"`
}

// CacheConfig holds the response cache TTL.
type CacheConfig struct {
	TTL           string `toml:"ttl"`
	SweepInterval string `toml:"sweep_interval"`
}

// WizardConfig controls how long an untouched dialog survives.
type WizardConfig struct {
	IdleTTL       string `toml:"idle_ttl"`
	SweepInterval string `toml:"sweep_interval"`
}

// JobProfile is a named poll cadence for one job kind.
type JobProfile struct {
	PollInterval string `toml:"poll_interval"`
	MaxWait      string `toml:"max_wait"`
}

// JobsConfig configures the job tracker.
type JobsConfig struct {
	PollInterval    string                `toml:"poll_interval"`
	MaxWait         string                `toml:"max_wait"`
	CallTimeout     string                `toml:"call_timeout"`
	MaxStatusErrors int                   `toml:"max_status_errors"`
	Profiles        map[string]JobProfile `toml:"profiles"`
}

// RouterConfig bounds the router's collaborator calls.
type RouterConfig struct {
	SendTimeout     string `toml:"send_timeout"`
	GenerateTimeout string `toml:"generate_timeout"`
	StoreTimeout    string `toml:"store_timeout"`
	DefaultTopic    string `toml:"default_topic"`
}

// PiAPIConfig holds the video provider credentials. An empty key disables /video.
type PiAPIConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// LLMConfig holds an OpenAI-compatible endpoint. An empty key selects the
// offline templates.
type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// StorageConfig selects the persistence backend: memory, sqlite or postgres.
type StorageConfig struct {
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
	MaxConns int32  `toml:"max_conns"`
}

// SQLiteConfig holds the database file path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// PostConfig is one scheduled channel post.
type PostConfig struct {
	Name     string `toml:"name"`
	Pattern  string `toml:"pattern"`
	Topic    string `toml:"topic"`
	Tone     string `toml:"tone"`
	Target   string `toml:"target"`
	MaxCalls *int   `toml:"max_calls"`
}

// PublisherConfig holds scheduled posts.
type PublisherConfig struct {
	Enabled    bool         `toml:"enabled"`
	RunTimeout string       `toml:"run_timeout"`
	Posts      []PostConfig `toml:"posts"`
}

// Duration parses value, returning fallback when it is empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Telegram: TelegramConfig{
			PollTimeout:     "30s",
			RetryDelay:      "3s",
			SendRate:        30,
			Grace:           "3s",
			ConflictBackoff: "5s",
			CallTimeout:     "30s",
		},
		RateLimit: RateLimitConfig{
			GeneralLimit:   20,
			ExpensiveLimit: 5,
			Window:         "1m",
			SweepInterval:  "5m",
		},
		Cache: CacheConfig{
			TTL:           "1h",
			SweepInterval: "10m",
		},
		Wizard: WizardConfig{
			IdleTTL:       "30m",
			SweepInterval: "1m",
		},
		Jobs: JobsConfig{
			PollInterval:    "10s",
			MaxWait:         "5m",
			CallTimeout:     "30s",
			MaxStatusErrors: 3,
		},
		Router: RouterConfig{
			SendTimeout:     "10s",
			GenerateTimeout: "60s",
			StoreTimeout:    "5s",
		},
		PiAPI: PiAPIConfig{
			BaseURL: DefaultPiAPIBaseURL,
			Model:   "kling",
			Timeout: "30s",
		},
		LLM: LLMConfig{
			BaseURL: DefaultLLMBaseURL,
			Model:   DefaultLLMModel,
			Timeout: "60s",
		},
		Storage: StorageConfig{
			Driver: DefaultStorage,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		SQLite: SQLiteConfig{
			Path: DefaultSQLitePath,
		},
		Publisher: PublisherConfig{
			RunTimeout: "2m",
		},
	}
}

// Load reads and parses the TOML config file at path, applies default
// values for missing fields, then environment overrides for secrets.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Telegram.BotToken, EnvTelegramToken)
	override(&cfg.PiAPI.APIKey, EnvPiAPIKey)
	override(&cfg.LLM.APIKey, EnvLLMKey)
	override(&cfg.Auth.JWTSecret, EnvJWTSecret)
}
