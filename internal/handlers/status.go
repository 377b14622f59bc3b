package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/promobot/internal/jobs"
	"github.com/memohai/promobot/internal/supervisor"
	"github.com/memohai/promobot/internal/version"
)

// InstanceStatus reports the bot instance state.
type InstanceStatus interface {
	Status() supervisor.Status
}

// JobLookup exposes tracked jobs.
type JobLookup interface {
	Get(taskID string) (jobs.Job, bool)
	Len() int
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Bot     supervisor.Status `json:"bot"`
	Jobs    int               `json:"tracked_jobs"`
	Version version.Info      `json:"version"`
}

// StatusHandler serves the runtime status endpoints.
type StatusHandler struct {
	instance InstanceStatus
	jobs     JobLookup
	logger   *slog.Logger
}

// NewStatusHandler creates a status handler. jobs may be nil when video
// generation is disabled.
func NewStatusHandler(log *slog.Logger, instance InstanceStatus, jobs JobLookup) *StatusHandler {
	return &StatusHandler{
		instance: instance,
		jobs:     jobs,
		logger:   log.With(slog.String("handler", "status")),
	}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
	e.GET("/jobs/:id", h.Job)
}

// Status returns the supervisor snapshot and the number of tracked jobs.
func (h *StatusHandler) Status(c echo.Context) error {
	if _, _, err := requireOperator(c, h.logger); err != nil {
		return err
	}
	resp := StatusResponse{Version: version.Get()}
	if h.instance != nil {
		resp.Bot = h.instance.Status()
	}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Len()
	}
	return c.JSON(http.StatusOK, resp)
}

// Job returns one tracked job.
func (h *StatusHandler) Job(c echo.Context) error {
	if _, _, err := requireOperator(c, h.logger); err != nil {
		return err
	}
	if h.jobs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "video jobs are disabled")
	}
	job, ok := h.jobs.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}
