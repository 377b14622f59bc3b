package piapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/promobot/internal/jobs"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(nil, Config{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(nil, Config{})
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	var got taskRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/task", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"code":200,"data":{"task_id":"T1","status":"pending"}}`))
	})

	sub, err := client.Submit(context.Background(), jobs.Request{Kind: "video", Prompt: "a rocket", Mode: "pro", Duration: 10})
	require.NoError(t, err)
	assert.Equal(t, "T1", sub.TaskID)
	assert.Equal(t, 0.96, sub.CostEstimate)
	assert.Equal(t, "kling", got.Model)
	assert.Equal(t, "video_generation", got.TaskType)
	assert.Equal(t, "a rocket", got.Input.Prompt)
	assert.Equal(t, 10, got.Input.Duration)
	assert.Equal(t, "16:9", got.Input.AspectRatio)
}

func TestSubmitRejected(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid key"}`))
	})

	_, err := client.Submit(context.Background(), jobs.Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")

	_, err = client.Submit(context.Background(), jobs.Request{})
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	responses := map[string]string{
		"P":  `{"data":{"status":"processing"}}`,
		"Q":  `{"data":{"status":"pending"}}`,
		"C":  `{"data":{"status":"completed","output":{"works":[{"video":{"resource_without_watermark":"https://cdn/v.mp4"}}]}}}`,
		"F":  `{"data":{"status":"failed","error":{"message":"nsfw"}}}`,
		"CE": `{"data":{"status":"completed"}}`,
	}
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(responses[r.URL.Query().Get("task_id")]))
	})
	ctx := context.Background()

	r, err := client.Status(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, r.Status)

	r, err = client.Status(ctx, "Q")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, r.Status)

	r, err = client.Status(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, r.Status)
	assert.Equal(t, "https://cdn/v.mp4", r.ResultURL)

	r, err = client.Status(ctx, "F")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, r.Status)
	assert.Equal(t, "nsfw", r.ErrorReason)

	_, err = client.Status(ctx, "CE")
	assert.Error(t, err)
}

func TestEstimateCost(t *testing.T) {
	assert.Equal(t, 0.24, EstimateCost("std", 5))
	assert.Equal(t, 0.48, EstimateCost("std", 10))
	assert.Equal(t, 0.48, EstimateCost("pro", 5))
	assert.Equal(t, 0.96, EstimateCost("PRO", 10))
}
