package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/publisher"
)

// Scheduler is the scheduled publisher as seen by the API.
type Scheduler interface {
	Trigger(ctx context.Context, name string) error
	Posts() []publisher.PostStatus
}

// PublishRequest is the body of POST /publish.
type PublishRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
	HTML   bool   `json:"html,omitempty"`
}

// PublishHandler exposes the outbound primitive and the publisher.
type PublishHandler struct {
	out       publisher.Outbound
	scheduler Scheduler
	logger    *slog.Logger
}

// NewPublishHandler creates the handler. scheduler may be nil when no posts
// are configured.
func NewPublishHandler(log *slog.Logger, out publisher.Outbound, scheduler Scheduler) *PublishHandler {
	return &PublishHandler{
		out:       out,
		scheduler: scheduler,
		logger:    log.With(slog.String("handler", "publish")),
	}
}

func (h *PublishHandler) Register(e *echo.Echo) {
	e.POST("/publish", h.Publish)
	group := e.Group("/publisher")
	group.GET("/posts", h.Posts)
	group.POST("/:name/trigger", h.Trigger)
}

// Publish sends text to a chat or channel.
func (h *PublishHandler) Publish(c echo.Context) error {
	_, log, err := requireOperator(c, h.logger)
	if err != nil {
		return err
	}
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target and text are required")
	}
	content := channel.Text(req.Text)
	if req.HTML {
		content = channel.HTML(req.Text)
	}
	if err := h.out.Publish(c.Request().Context(), req.Target, content); err != nil {
		log.Warn("publish failed", slog.String("target", req.Target), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Posts lists scheduled posts.
func (h *PublishHandler) Posts(c echo.Context) error {
	if _, _, err := requireOperator(c, h.logger); err != nil {
		return err
	}
	items := []publisher.PostStatus{}
	if h.scheduler != nil {
		items = h.scheduler.Posts()
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// Trigger runs a scheduled post now.
func (h *PublishHandler) Trigger(c echo.Context) error {
	_, log, err := requireOperator(c, h.logger)
	if err != nil {
		return err
	}
	if h.scheduler == nil {
		return echo.NewHTTPError(http.StatusNotFound, "publisher is disabled")
	}
	name := c.Param("name")
	if err := h.scheduler.Trigger(c.Request().Context(), name); err != nil {
		if errors.Is(err, publisher.ErrUnknownPost) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		log.Warn("trigger failed", slog.String("post", name), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	log.Info("post triggered", slog.String("post", name))
	return c.NoContent(http.StatusNoContent)
}
