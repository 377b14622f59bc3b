package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LLMClient is a Generator backed by an OpenAI-compatible chat endpoint.
type LLMClient struct {
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
	http    *http.Client
}

func NewLLMClient(log *slog.Logger, baseURL, apiKey, model string, timeout time.Duration) (*LLMClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("llm client: base url is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("llm client: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("llm client: model is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		logger:  log.With(slog.String("client", "llm")),
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *LLMClient) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return "", fmt.Errorf("topic is required")
	}
	system, user, err := prompts(req)
	if err != nil {
		return "", err
	}
	start := time.Now()
	out, err := c.callChat(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("generated", slog.String("kind", string(req.Kind)), slog.Duration("took", time.Since(start)))
	return strings.TrimSpace(out), nil
}

func prompts(req Request) (string, string, error) {
	tone := req.Tone
	if tone == "" {
		tone = "casual"
	}
	switch req.Kind {
	case KindViral:
		return "You write short viral posts for a Telegram channel. Reply with the post only, under 600 characters, with at most three emoji.",
			fmt.Sprintf("Topic: %s\nTone: %s", req.Topic, tone), nil
	case KindAnswer:
		return "You are the assistant of a Telegram promotion bot. Answer briefly and concretely.", req.Topic, nil
	case KindPost:
		return "You write daily channel posts. Reply with the post only, under 800 characters.",
			fmt.Sprintf("Topic: %s\nTone: %s", req.Topic, tone), nil
	case KindVideoPrompt:
		return "You turn topics into one-sentence prompts for a text-to-video model. Describe visuals only, no text overlays.",
			req.Topic, nil
	case KindGrowthPlan:
		return "You plan Telegram channel growth. Reply with a 30-day plan split into four weeks with concrete daily actions and an expected subscriber gain per week. Under 1200 characters.",
			fmt.Sprintf("Channel topic: %s", req.Topic), nil
	case KindTrends:
		return "You track Telegram content trends. Reply with the top five content trends, the formats that spread best and three ideas to try today. Under 600 characters.",
			fmt.Sprintf("Niche: %s", req.Topic), nil
	case KindCompetitors:
		return "You analyze Telegram channels. For three leading channels in the niche give the name, rough subscriber count, strengths, weaknesses and what to copy. Under 800 characters.",
			fmt.Sprintf("Niche: %s", req.Topic), nil
	default:
		return "", "", fmt.Errorf("unsupported content kind: %s", req.Kind)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *LLMClient) callChat(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: 0.8,
		Messages:    messages,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm error: %s", strings.TrimSpace(string(b)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("llm response missing content")
	}
	return parsed.Choices[0].Message.Content, nil
}
