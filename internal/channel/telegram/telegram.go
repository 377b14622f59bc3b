// Package telegram implements the channel platform on the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/channel"
)

const (
	DefaultPollTimeout = 30 * time.Second
	DefaultRetryDelay  = 3 * time.Second
	// DefaultSendRate is the platform-wide outbound limit, in messages per second.
	DefaultSendRate = 30
)

// Config configures the Telegram client.
type Config struct {
	BotToken    string
	Endpoint    string
	PollTimeout time.Duration
	RetryDelay  time.Duration
	SendRate    float64
}

// Client implements channel.Platform and channel.Sender.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

var setLoggerOnce sync.Once

// NewClient builds a client. The bot identity is verified lazily on first use.
func NewClient(log *slog.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required: %w", channel.ErrUnauthorized)
	}
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = DefaultSendRate
	}
	logger := log.With(slog.String("adapter", "telegram"))
	setLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(&slogBotLogger{log: logger})
	})
	return &Client{
		cfg: cfg,
		// The long poll holds a request open for PollTimeout; leave headroom
		// so every request is still bounded.
		http:    &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
		logger:  logger,
	}, nil
}

func (c *Client) ensureBot() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot != nil {
		return c.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(c.cfg.BotToken, c.cfg.Endpoint, c.http)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", classifyError(err))
	}
	c.logger.Info("bot authorized", slog.String("username", bot.Self.UserName))
	c.bot = bot
	return bot, nil
}

// ClearWebhook deletes the webhook registration, keeping pending updates.
func (c *Client) ClearWebhook(ctx context.Context) error {
	bot, err := c.ensureBot()
	if err != nil {
		return err
	}
	return bounded.Call(ctx, 0, func(context.Context) error {
		_, err := bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false})
		if err != nil {
			return fmt.Errorf("delete webhook: %w", classifyError(err))
		}
		return nil
	})
}

// Connect starts a long-polling receive loop.
func (c *Client) Connect(ctx context.Context) (channel.Connection, error) {
	bot, err := c.ensureBot()
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(context.Background())
	conn := &pollConnection{
		updates: make(chan channel.Message, 64),
		errs:    make(chan error, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.logger.Info("polling start")
	go c.poll(connCtx, bot, conn)
	return conn, nil
}

func (c *Client) poll(ctx context.Context, bot *tgbotapi.BotAPI, conn *pollConnection) {
	defer close(conn.done)
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(c.cfg.PollTimeout / time.Second)
	for {
		if ctx.Err() != nil {
			c.logger.Info("polling stop")
			return
		}
		updates, err := bot.GetUpdates(cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			conn.report(classifyError(err))
			timer := time.NewTimer(c.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= cfg.Offset {
				cfg.Offset = update.UpdateID + 1
			}
			msg, ok := toMessage(update)
			if !ok {
				continue
			}
			select {
			case conn.updates <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Send delivers content to a numeric chat id or an @channel handle.
func (c *Client) Send(ctx context.Context, target string, content channel.Content) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("telegram target is required")
	}
	if content.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	bot, err := c.ensureBot()
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return bounded.Call(ctx, 0, func(context.Context) error {
		if err := sendContent(bot, target, content); err != nil {
			c.logger.Error("send failed", slog.String("target", target), slog.Any("error", err))
			return classifyError(err)
		}
		return nil
	})
}

type pollConnection struct {
	updates chan channel.Message
	errs    chan error
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (p *pollConnection) Updates() <-chan channel.Message { return p.updates }

func (p *pollConnection) Errors() <-chan error { return p.errs }

func (p *pollConnection) report(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

// Close stops the loop. An in-flight long poll cannot be aborted by the
// library, so Close waits for it only until ctx is done.
func (p *pollConnection) Close(ctx context.Context) error {
	p.once.Do(p.cancel)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// classifyError maps Bot API error codes onto channel sentinel errors.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", channel.ErrConflict, apiErr.Message)
		case http.StatusUnauthorized, http.StatusNotFound:
			return fmt.Errorf("%w: %s", channel.ErrUnauthorized, apiErr.Message)
		}
	}
	return err
}
