// Package piapi is a jobs.Provider for the Kling video model hosted on PiAPI.
package piapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memohai/promobot/internal/jobs"
)

const (
	DefaultBaseURL        = "https://api.piapi.ai"
	DefaultModel          = "kling"
	DefaultMode           = "std"
	DefaultDuration       = 5
	DefaultAspectRatio    = "16:9"
	DefaultNegativePrompt = "blurry, low quality, distorted, text, watermark"
	defaultCfgScale       = 0.5
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to the PiAPI task endpoints.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
	http    *http.Client
}

// NewClient validates cfg and builds a client.
func NewClient(log *slog.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("piapi client: api key is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		logger:  log.With(slog.String("client", "piapi")),
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// EstimateCost returns the USD price of a generation by mode and duration.
func EstimateCost(mode string, duration int) float64 {
	long := duration > 5
	if strings.EqualFold(mode, "pro") {
		if long {
			return 0.96
		}
		return 0.48
	}
	if long {
		return 0.48
	}
	return 0.24
}

type taskInput struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	CfgScale       float64 `json:"cfg_scale"`
	Duration       int     `json:"duration"`
	AspectRatio    string  `json:"aspect_ratio,omitempty"`
	Mode           string  `json:"mode"`
	ImageURL       string  `json:"image_url,omitempty"`
}

type taskRequest struct {
	Model    string    `json:"model"`
	TaskType string    `json:"task_type"`
	Input    taskInput `json:"input"`
}

type taskData struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output struct {
		Works []struct {
			Video struct {
				Resource                 string `json:"resource"`
				ResourceWithoutWatermark string `json:"resource_without_watermark"`
			} `json:"video"`
		} `json:"works"`
	} `json:"output"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type taskResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	TaskID  string   `json:"task_id"`
	Data    taskData `json:"data"`
}

// Submit creates a video generation task.
func (c *Client) Submit(ctx context.Context, req jobs.Request) (jobs.Submission, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return jobs.Submission{}, fmt.Errorf("prompt is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = DefaultMode
	}
	duration := req.Duration
	if duration != 10 {
		duration = DefaultDuration
	}
	aspect := req.AspectRatio
	if aspect == "" && req.ImageURL == "" {
		aspect = DefaultAspectRatio
	}
	body, err := json.Marshal(taskRequest{
		Model:    c.model,
		TaskType: "video_generation",
		Input: taskInput{
			Prompt:         req.Prompt,
			NegativePrompt: DefaultNegativePrompt,
			CfgScale:       defaultCfgScale,
			Duration:       duration,
			AspectRatio:    aspect,
			Mode:           mode,
			ImageURL:       req.ImageURL,
		},
	})
	if err != nil {
		return jobs.Submission{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/task", bytes.NewReader(body))
	if err != nil {
		return jobs.Submission{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	var parsed taskResponse
	if err := c.do(httpReq, &parsed); err != nil {
		return jobs.Submission{}, err
	}
	taskID := parsed.Data.TaskID
	if taskID == "" {
		taskID = parsed.TaskID
	}
	if taskID == "" {
		return jobs.Submission{}, fmt.Errorf("piapi response missing task id")
	}
	c.logger.Debug("task created", slog.String("task_id", taskID), slog.String("mode", mode), slog.Int("duration", duration))
	return jobs.Submission{TaskID: taskID, CostEstimate: EstimateCost(mode, duration)}, nil
}

// Status fetches the current state of a task.
func (c *Client) Status(ctx context.Context, taskID string) (jobs.Report, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/task?task_id="+url.QueryEscape(taskID), nil)
	if err != nil {
		return jobs.Report{}, err
	}
	var parsed taskResponse
	if err := c.do(httpReq, &parsed); err != nil {
		return jobs.Report{}, err
	}
	report := jobs.Report{Status: mapStatus(parsed.Data.Status)}
	if works := parsed.Data.Output.Works; len(works) > 0 {
		report.ResultURL = works[0].Video.Resource
		if report.ResultURL == "" {
			report.ResultURL = works[0].Video.ResourceWithoutWatermark
		}
	}
	if report.Status == jobs.StatusFailed {
		report.ErrorReason = parsed.Data.Error.Message
		if report.ErrorReason == "" {
			report.ErrorReason = "generation failed"
		}
	}
	if report.Status == jobs.StatusCompleted && report.ResultURL == "" {
		return jobs.Report{}, fmt.Errorf("piapi task %s completed without a video url", taskID)
	}
	return report, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("x-api-key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("piapi error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// mapStatus folds PiAPI statuses into the tracker's four states. Unknown
// statuses count as still processing.
func mapStatus(status string) jobs.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return jobs.StatusCompleted
	case "failed":
		return jobs.StatusFailed
	case "pending", "staged":
		return jobs.StatusQueued
	default:
		return jobs.StatusProcessing
	}
}
